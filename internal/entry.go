// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rollcall/internal/api"
	"github.com/starford/rollcall/internal/mcpserver"
	"github.com/starford/rollcall/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	logger := newLogger(app.logOutput, app.config.App.LogLevel)
	slog.SetDefault(logger)

	cfg := app.config
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("dataset_root", cfg.Dataset.Root),
		slog.String("registry", cfg.ResolvePath(cfg.Dataset.Registry)),
		slog.String("attendance_log", cfg.ResolvePath(cfg.Attendance.Log)),
		slog.String("engine", cfg.Engine.Kind),
		slog.String("camera", cfg.Camera.Device),
		slog.String("display", cfg.Camera.Display),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return app, logger, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	c, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	apiRouter := api.NewRouter(c.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.service.Ready(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Rebuild the recognition cache whenever the registry changes on disk.
	g.Go(func() error {
		return watchRegistry(gCtx, c, logger)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if app.autostart {
		if err := c.pipeline.Start(gCtx); err != nil {
			logger.Error("autostart failed", slog.String("error", err.Error()))
		}
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		stopWorkers(shutdownCtx, c, logger)

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio. Logs go to stderr so they do
// not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append(opts, WithLogOutput(os.Stderr))
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}

	c, err := build(app.config, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := watchRegistry(watchCtx, c, logger); err != nil {
			logger.Warn("registry watcher stopped", slog.String("error", err.Error()))
		}
	}()

	if app.autostart {
		if err := c.pipeline.Start(ctx); err != nil {
			logger.Error("autostart failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("MCP server starting on stdio")
	serveErr := mcpserver.New(c.service).ServeStdio()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	stopWorkers(shutdownCtx, c, logger)

	if serveErr != nil {
		return fmt.Errorf("mcp server: %w", serveErr)
	}
	return nil
}

// errShutdown ends the run group once a shutdown has been requested.
var errShutdown = errors.New("shutdown requested")

func watchRegistry(ctx context.Context, c *components, logger *slog.Logger) error {
	return registry.Watch(ctx, c.registry.Path(), logger, func() {
		if err := c.pipeline.Reload(ctx); err != nil {
			logger.Warn("registry reload failed", slog.String("error", err.Error()))
		}
	})
}

// stopWorkers cancels any enrollment preview and waits for the pipeline
// worker to release the camera.
func stopWorkers(ctx context.Context, c *components, logger *slog.Logger) {
	if sess, err := c.enroll.Current(); err == nil {
		sess.Cancel()
		if _, err := sess.Wait(ctx); err != nil {
			logger.Warn("enrollment did not stop in time", slog.String("error", err.Error()))
		}
	}
	if err := c.pipeline.Shutdown(ctx); err != nil {
		logger.Warn("pipeline did not stop in time", slog.String("error", err.Error()))
	}
}
