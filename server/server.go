// Package server exposes the HTTP surface: the streaming chat endpoint,
// sandbox file downloads, uploads, health and metrics.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/sandchat/sandchat/blob"
	"github.com/sandchat/sandchat/logging"
	"github.com/sandchat/sandchat/metrics"
	"github.com/sandchat/sandchat/model"
	"github.com/sandchat/sandchat/prompt"
	"github.com/sandchat/sandchat/sandbox"
	"github.com/sandchat/sandchat/tool"
	"github.com/sandchat/sandchat/turn"
)

// Identity is the resolved caller identity. Zero value means anonymous.
type Identity struct {
	UserID  string
	Details string // e.g. "Ana <ana@example.com>"
}

// IdentityResolver extracts the caller identity from a request. Resolution
// failures are treated as anonymous, not as request errors.
type IdentityResolver interface {
	Resolve(r *http.Request) Identity
}

// HeaderIdentityResolver trusts identity headers set by an authenticating
// reverse proxy: X-User-Id, X-User-Name, X-User-Email.
type HeaderIdentityResolver struct{}

// Resolve implements IdentityResolver.
func (HeaderIdentityResolver) Resolve(r *http.Request) Identity {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return Identity{}
	}
	details := r.Header.Get("X-User-Name")
	if email := r.Header.Get("X-User-Email"); email != "" {
		if details != "" {
			details += " <" + email + ">"
		} else {
			details = "<" + email + ">"
		}
	}
	return Identity{UserID: id, Details: details}
}

// Options configure the server.
type Options struct {
	Logger           logging.Logger
	Identity         IdentityResolver
	Metrics          *metrics.Metrics
	Sandbox          *sandbox.Client
	Blobs            blob.Store
	StepBudget       int
	TurnTimeout      time.Duration
	MaxParallelTools int
	// DownloadBaseURL is the absolute URL of the download endpoint, used to
	// rewrite sandbox file references in streamed text.
	DownloadBaseURL string
}

// Server wires the turn pipeline behind HTTP handlers.
type Server struct {
	models       map[string]model.Model
	defaultModel string
	registry     *tool.Registry
	composer     *prompt.Composer
	logger       logging.Logger
	identity     IdentityResolver
	metrics      *metrics.Metrics
	sandbox      *sandbox.Client
	blobs        blob.Store
	opts         Options

	threadMu    sync.Mutex
	threadLocks map[string]*threadLock
}

// threadLock serializes turns on one thread. Entries are reference counted
// and evicted when the last holder releases, so the map does not grow with
// every thread id ever seen.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a server. models maps selector names to implementations;
// defaultModel is used when a request names no (or an unknown) model.
func New(
	models map[string]model.Model,
	defaultModel string,
	registry *tool.Registry,
	composer *prompt.Composer,
	optFns ...func(o *Options),
) *Server {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		Identity:         HeaderIdentityResolver{},
		StepBudget:       10,
		TurnTimeout:      60 * time.Second,
		MaxParallelTools: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		models:       models,
		defaultModel: defaultModel,
		registry:     registry,
		composer:     composer,
		logger:       opts.Logger,
		identity:     opts.Identity,
		metrics:      opts.Metrics,
		sandbox:      opts.Sandbox,
		blobs:        opts.Blobs,
		opts:         opts,
		threadLocks:  map[string]*threadLock{},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /download", s.handleDownload)
	mux.HandleFunc("POST /upload", s.handleUpload)
	if _, ok := s.blobs.(blobGetter); ok {
		mux.HandleFunc("GET /blobs/{name}", s.handleBlob)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// acquireThread blocks until the caller may run a turn on the thread.
// Concurrent turns on the same thread would race on the shared sandbox
// session.
func (s *Server) acquireThread(threadID string) *threadLock {
	s.threadMu.Lock()
	l, ok := s.threadLocks[threadID]
	if !ok {
		l = &threadLock{}
		s.threadLocks[threadID] = l
	}
	l.refs++
	s.threadMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Server) releaseThread(threadID string, l *threadLock) {
	l.mu.Unlock()

	s.threadMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.threadLocks, threadID)
	}
	s.threadMu.Unlock()
}

func (s *Server) modelFor(name string) (model.Model, bool) {
	if m, ok := s.models[name]; ok {
		return m, true
	}
	m, ok := s.models[s.defaultModel]
	return m, ok
}

func (s *Server) newEngine(m model.Model) *turn.Engine {
	return turn.NewEngine(m, s.registry, func(o *turn.Options) {
		o.Logger = s.logger
		o.MaxParallelTools = s.opts.MaxParallelTools
		if s.metrics != nil {
			o.ToolHook = s.metrics.ObserveToolExecution
		}
	})
}
