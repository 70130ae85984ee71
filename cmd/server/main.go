// Story Refiner - refinement workflow server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashureev/story-refiner/internal/api"
	"github.com/ashureev/story-refiner/internal/config"
	"github.com/ashureev/story-refiner/internal/flow"
	"github.com/ashureev/story-refiner/internal/gateway"
	"github.com/ashureev/story-refiner/internal/issue"
	"github.com/ashureev/story-refiner/internal/metrics"
	"github.com/ashureev/story-refiner/internal/middleware"
	"github.com/ashureev/story-refiner/internal/notify"
	"github.com/ashureev/story-refiner/internal/session"
	"github.com/ashureev/story-refiner/internal/store"
	"github.com/ashureev/story-refiner/internal/transcript"
	"github.com/ashureev/story-refiner/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Backend.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.New()
	var wg sync.WaitGroup

	// Snapshot persistence is optional; the workflow runs in memory without it.
	var pinger api.Pinger
	if cfg.Snapshot.Enabled {
		repo, err := store.NewSQLite(cfg.Snapshot.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := repo.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.Snapshot.DBPath)
		pinger = repo

		saver := store.NewAutosaver(repo, sessions, cfg.Snapshot.Key, logger)
		if _, err := saver.Restore(ctx); err != nil {
			slog.Warn("Failed to restore session, starting fresh", "error", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			saver.Run(ctx)
		}()
	}

	if cfg.Transcript.Enabled {
		writer, err := transcript.New(cfg.Transcript.Dir, sessions, logger)
		if err != nil {
			slog.Error("Failed to initialize transcript writer", "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(ctx)
		}()
		slog.Info("Conversation transcripts enabled", "dir", cfg.Transcript.Dir)
	}

	// Backend gateway.
	recorder := metrics.Nop()
	if cfg.MetricsEnabled {
		recorder = metrics.NewPrometheusRecorder(nil)
	}
	backend, err := gateway.New(cfg.Backend.URL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		gateway.WithRecorder(recorder),
		gateway.WithLogger(logger),
	)
	if err != nil {
		slog.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	notes := notify.NewCenter(cfg.NotificationTTL)
	hub := api.NewStreamHub()
	notes.OnNotify(hub.Notify)

	controller := flow.New(sessions, backend, notes, logger)
	publisher := issue.NewPublisher(sessions, backend, notes, cfg.IssueTitle, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(sessions, controller, publisher, notes, cfg)
	workflowHandler := api.NewWorkflowHandler(baseHandler)
	healthHandler := api.NewHealthHandler(pinger, hub)
	streamHandler := api.NewStreamHandler(baseHandler, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	workflowHandler.RegisterRoutes(r)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// WebSocket endpoint.
	r.Get("/ws/session", streamHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: backend calls have no deadline of their own and the
	// session stream is long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Let the autosaver flush the final snapshot before the database closes.
	wg.Wait()
	slog.Info("Server stopped successfully")
}
