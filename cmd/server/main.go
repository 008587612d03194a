// Package main is the entrypoint for the PhotoTune API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/phototune/internal/api"
	"github.com/kiranshivaraju/phototune/internal/api/handler"
	mw "github.com/kiranshivaraju/phototune/internal/api/middleware"
	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/internal/astria"
	"github.com/kiranshivaraju/phototune/internal/cache"
	"github.com/kiranshivaraju/phototune/internal/config"
	"github.com/kiranshivaraju/phototune/internal/events"
	"github.com/kiranshivaraju/phototune/internal/store"
	"github.com/kiranshivaraju/phototune/internal/training"
	amqp "github.com/rabbitmq/amqp091-go"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"pricing_enabled", cfg.Pricing.Enabled,
		"tune_type", cfg.Astria.TuneType,
		"test_mode", cfg.Astria.TestMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Event publisher, optional
	publisher, closePublisher, err := newPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer closePublisher()

	// 6. Training provider
	provider := astria.NewHTTPClient(cfg.Astria.BaseURL, cfg.Astria.APIKey, astria.Options{
		Branch:       cfg.Astria.EffectiveBranch(),
		PacksEnabled: cfg.Astria.TuneType == "packs",
	}, cfg.Astria.Timeout)
	slog.Info("training provider initialized", "provider", provider.Name(), "branch", cfg.Astria.EffectiveBranch())

	// 7. Create store and services
	pgStore := store.NewPostgresStore(pool)

	svc := training.NewService(pgStore, provider, redisCache, publisher, training.Options{
		PublicURL:       cfg.Server.PublicURL,
		WebhookSecret:   cfg.Webhook.Secret,
		PricingEnabled:  cfg.Pricing.Enabled,
		CreditsPerTune:  cfg.Pricing.CreditsPerTune,
		PackScope:       cfg.Astria.PackQueryType,
		ProviderTimeout: cfg.Astria.Timeout,
	})
	reconciler := training.NewReconciler(pgStore, redisCache, publisher, cfg.Webhook.Secret, 0)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore, cfg.Auth.JWTSecret)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.SubmitLimitPerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache),
		WebhookHandler:   handler.NewWebhookHandler(reconciler),
		TrainHandler:     handler.NewTrainHandler(svc),
		ListTunesHandler: handler.NewListTunesHandler(svc),
		GetTuneHandler:   handler.NewGetTuneHandler(svc),
		TuneStatus:       handler.NewTuneStatusHandler(svc),
		CreatePrompt:     handler.NewCreatePromptHandler(svc),
		ListPacks:        handler.NewListPacksHandler(svc),
		CreditsHandler:   handler.NewCreditsHandler(svc),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Astria.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newPublisher connects to the broker when AMQP_URL is set. Without it, events
// are dropped.
func newPublisher(cfg config.EventsConfig) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		slog.Info("no AMQP_URL configured, job events disabled")
		return events.NopPublisher{}, func() {}, nil
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := events.NewRabbitPublisher(conn, cfg.Exchange)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	slog.Info("event publisher connected", "exchange", cfg.Exchange)

	return pub, func() {
		pub.Close()
		conn.Close()
	}, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
