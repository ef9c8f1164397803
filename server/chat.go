package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sandchat/sandchat/core"
	"github.com/sandchat/sandchat/rewrite"
	"github.com/sandchat/sandchat/stream"
)

// chatRequest is the turn submission body.
type chatRequest struct {
	Messages        []core.Message `json:"messages"`
	Thread          string         `json:"thread"`
	Model           string         `json:"model"`
	ToolChoice      string         `json:"toolChoice"`
	ActiveTools     []string       `json:"activeTools"`
	ReasoningEffort string         `json:"reasoningEffort"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// Validation happens before any stream output so failures are plain
	// HTTP errors, never partial streams.
	if req.Thread == "" {
		writeError(w, http.StatusBadRequest, "thread is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	m, ok := s.modelFor(req.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, "no model available")
		return
	}

	identity := s.identity.Resolve(r)
	tc := core.TurnContext{
		UserID:          identity.UserID,
		ThreadID:        req.Thread,
		ActiveTools:     req.ActiveTools,
		ToolChoice:      core.ToolChoice(req.ToolChoice),
		StepBudget:      s.opts.StepBudget,
		ReasoningEffort: req.ReasoningEffort,
	}
	if tc.ToolChoice == "" {
		tc.ToolChoice = core.ToolChoiceAuto
	}
	if err := tc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	serializer, err := stream.NewSerializer(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// One turn at a time per thread; concurrent turns would race on the
	// shared sandbox session.
	lock := s.acquireThread(req.Thread)
	defer s.releaseThread(req.Thread, lock)

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TurnTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.TurnsStarted.Inc()
	}
	start := time.Now()

	instructions := s.composer.Compose(ctx, identity.UserID, identity.Details, req.Messages)

	events := s.newEngine(m).Run(ctx, tc, instructions, req.Messages)
	events = rewrite.Transform(events, s.opts.DownloadBaseURL, req.Thread)
	events = s.tapFinish(events, start)

	if err := serializer.Serialize(events); err != nil {
		s.logger.Warn("chat.stream.aborted", "thread_id", req.Thread, "error", err.Error())
		// Keep consuming so the rewrite and metrics goroutines upstream can
		// run to completion instead of blocking on their sends forever.
		for range events {
		}
	}
}

// tapFinish observes the finish event for metrics without disturbing the
// stream.
func (s *Server) tapFinish(in <-chan core.TurnEvent, start time.Time) <-chan core.TurnEvent {
	out := make(chan core.TurnEvent)
	go func() {
		defer close(out)
		for ev := range in {
			if fin, ok := ev.(core.FinishEvent); ok && s.metrics != nil {
				s.metrics.TurnsFinished.WithLabelValues(string(fin.Reason)).Inc()
				s.metrics.TurnDuration.Observe(time.Since(start).Seconds())
			}
			out <- ev
		}
	}()
	return out
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
