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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/api"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ingest"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/mcpserver"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/metrics"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/sse"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
)

// NewLogger returns the structured JSON logger used by every command.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// NewBuilder returns an ingest builder for the configured options.
func NewBuilder(cfg *Config, logger *slog.Logger) (*ingest.Builder, error) {
	b, err := ingest.New(cfg.Ingest.Options(), ingest.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init ingest: %w", err)
	}
	return b, nil
}

// LoadProfiles loads the built-in and configured profiles and returns the
// default one.
func LoadProfiles(cfg *Config) (*profile.Store, *profile.DomainProfile, error) {
	profiles, err := profile.Open(cfg.Profiles.Paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("load profiles: %w", err)
	}
	p, ok := profiles.Profile(cfg.Profiles.Default)
	if !ok {
		return nil, nil, apperr.New(apperr.ErrInvalidProfile, "load profiles", "default profile %s not found", cfg.Profiles.Default)
	}
	return profiles, p, nil
}

// OpenSession opens the package at root. With a persistent store the
// previous state is restored when it belongs to the same directory.
func OpenSession(cfg *Config, root string, logger *slog.Logger, opts ...session.Option) (*session.Session, error) {
	b, err := NewBuilder(cfg, logger)
	if err != nil {
		return nil, err
	}
	profiles, p, err := LoadProfiles(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]session.Option{session.WithLogger(logger)}, opts...)

	if cfg.Store.Persistent() {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve package: %w", err)
		}
		sess, err := session.Restore(cfg.Store.SQLitePath, b, profiles, opts...)
		switch {
		case err == nil && sess.Root() == abs:
			if _, err := sess.Refresh(); err != nil {
				return nil, fmt.Errorf("refresh restored package: %w", err)
			}
			return sess, nil
		case err == nil:
			logger.Warn("state belongs to another package, starting fresh",
				slog.String("state_root", sess.Root()),
				slog.String("root", abs))
		case errors.Is(err, apperr.ErrNotFound):
		default:
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}

	sess, err := session.Open(root, b, profiles, p, opts...)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return sess, nil
}

// Run starts the HTTP server for one package with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.root == "" {
		return fmt.Errorf("package directory is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg, os.Stdout)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("package", app.root),
		slog.String("profile", cfg.Profiles.Default),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}
	exports, err := storage.NewFS(cfg.Exports.Path)
	if err != nil {
		return fmt.Errorf("init exports storage: %w", err)
	}

	m := metrics.New()
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	sess, err := OpenSession(cfg, app.root, logger,
		session.WithMetrics(m),
		session.WithEvents(broker.PublishNodeEvent))
	if err != nil {
		return err
	}

	apiRouter := api.NewRouter(sess, cfg.Auth.AuthEnabled(), cfg.Auth.Token, api.Mounts{
		Events:  broker,
		Metrics: m.Handler(),
		Exports: exports,
	})

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		g.Go(func() error {
			if err := sess.Watch(gCtx, cfg.Watch.Debounce); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	err = g.Wait()
	if cfg.Store.Persistent() {
		if serr := sess.Save(cfg.Store.SQLitePath); serr != nil {
			logger.Error("Saving state failed", slog.String("error", serr.Error()))
		} else {
			logger.Info("State saved", slog.String("path", cfg.Store.SQLitePath))
		}
	}
	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// ServeMCP opens the package at root and serves the MCP tools on stdio.
// Logs go to stderr because stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.root == "" {
		return fmt.Errorf("package directory is required")
	}
	logger := app.logger
	if logger == nil {
		logger = NewLogger(app.config, os.Stderr)
	}

	sess, err := OpenSession(app.config, app.root, logger)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	if app.config.Watch.Enabled {
		g.Go(func() error {
			return sess.Watch(gCtx, app.config.Watch.Debounce)
		})
	}
	g.Go(func() error {
		err := mcpserver.New(sess, app.version).ServeStdio()
		if app.config.Store.Persistent() {
			if serr := sess.Save(app.config.Store.SQLitePath); serr != nil {
				logger.Error("Saving state failed", slog.String("error", serr.Error()))
			}
		}
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
