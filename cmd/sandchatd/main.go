// Command sandchatd runs the sandchat HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sandchat/sandchat/blob"
	blobs3 "github.com/sandchat/sandchat/blob/s3"
	"github.com/sandchat/sandchat/config"
	"github.com/sandchat/sandchat/logging"
	"github.com/sandchat/sandchat/memory"
	"github.com/sandchat/sandchat/metrics"
	"github.com/sandchat/sandchat/model"
	"github.com/sandchat/sandchat/model/anthropic"
	"github.com/sandchat/sandchat/model/openai"
	"github.com/sandchat/sandchat/prompt"
	"github.com/sandchat/sandchat/sandbox"
	"github.com/sandchat/sandchat/server"
	"github.com/sandchat/sandchat/tool"
	"github.com/sandchat/sandchat/tool/builtin"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging.Level)

	var sandboxClient *sandbox.Client
	if cfg.Sandbox.URL != "" {
		sandboxClient = sandbox.NewClient(cfg.Sandbox.URL, func(o *sandbox.Options) {
			o.Logger = logger
		})
	}

	var recaller memory.Recaller
	if cfg.Memory.URL != "" {
		recaller = memory.NewHTTPClient(cfg.Memory.URL, cfg.Memory.APIKey, func(o *memory.HTTPClientOptions) {
			o.Logger = logger
		})
	} else {
		recaller = memory.NewInMemoryStore()
	}

	blobStore, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = logger
		o.UnknownToolHook = func(string) { m.UnknownTools.Inc() }
	})
	registry.MustRegister(
		builtin.NewWeatherTool(),
		builtin.NewConvertFahrenheitToCelsiusTool(),
		builtin.NewLocalShellTool(sandboxClient),
		builtin.NewReadFileTool(sandboxClient),
	)

	composer := prompt.NewComposer(func(o *prompt.Options) {
		o.Recaller = recaller
		o.Logger = logger
	})

	models, defaultModel := newModels(cfg)

	srv := server.New(models, defaultModel, registry, composer, func(o *server.Options) {
		o.Logger = logger
		o.Metrics = m
		o.Sandbox = sandboxClient
		o.Blobs = blobStore
		o.StepBudget = cfg.Turn.StepBudget
		o.TurnTimeout = cfg.Turn.Timeout.Std()
		o.MaxParallelTools = cfg.Turn.MaxParallelTools
		o.DownloadBaseURL = cfg.Server.BaseURL + "/download"
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("server.shutting_down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return logging.NewSlogAdapter(slog.New(handler))
}

func newBlobStore(cfg config.Config) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "s3":
		return blobs3.New(context.Background(), blobs3.Config{
			Bucket:        cfg.Blob.Bucket,
			Prefix:        cfg.Blob.Prefix,
			Region:        cfg.Blob.Region,
			PublicBaseURL: cfg.Blob.PublicBaseURL,
		})
	default:
		return blob.NewInMemoryStore(cfg.Server.BaseURL + "/blobs"), nil
	}
}

func newModels(cfg config.Config) (map[string]model.Model, string) {
	models := map[string]model.Model{}

	openaiOpts := func(o *openai.Options) {
		if cfg.Model.Provider == "openai" && cfg.Model.Name != "" {
			o.Model = cfg.Model.Name
		}
	}
	models["openai"] = openai.NewModel(openaiOpts)

	anthropicOpts := func(o *anthropic.Options) {
		if cfg.Model.Provider == "anthropic" && cfg.Model.Name != "" {
			o.Model = anthropicsdk.Model(cfg.Model.Name)
		}
		o.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	models["anthropic"] = anthropic.NewModel(anthropicOpts)

	return models, cfg.Model.Provider
}
