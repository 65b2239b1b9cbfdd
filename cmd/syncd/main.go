package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/auth"
	"github.com/Guizzs26/tdee-sync/internal/broker"
	"github.com/Guizzs26/tdee-sync/internal/config"
	"github.com/Guizzs26/tdee-sync/internal/httpapi"
	"github.com/Guizzs26/tdee-sync/internal/localstore"
	"github.com/Guizzs26/tdee-sync/internal/remote"
	"github.com/Guizzs26/tdee-sync/internal/service"
	"github.com/Guizzs26/tdee-sync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(ctx, cfg.LocalDBPath, logger)
	if err != nil {
		slog.Error("Fatal error opening local store", "path", cfg.LocalDBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	gate := auth.NewSessionGate(nil, auth.WithLogger(logger))

	opts := service.Options{
		Logger:          logger,
		MaxRetries:      cfg.MaxRetries,
		ErrorHistoryCap: cfg.ErrorHistoryCap,
	}
	if rabbitmq := dialRabbitMQ(cfg); rabbitmq != nil {
		defer rabbitmq.Close()
		opts.Publisher = rabbitmq
	}

	engine, err := service.New(ctx, store, gate, opts)
	if err != nil {
		slog.Error("Fatal error loading sync state", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		slog.Error("Fatal error starting sync engine", "error", err)
		os.Exit(1)
	}

	backendDone := make(chan func())
	go func() { backendDone <- connectBackend(ctx, cfg, gate) }()

	sessionDone := make(chan struct{})
	go keepSessionAlive(ctx, gate, cfg.SessionTTL, sessionDone)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "addr", cfg.HTTPAddr, "error", err)
			stop()
		}
	}()

	slog.Info("🚀 Sync daemon started",
		"pid", os.Getpid(),
		"addr", cfg.HTTPAddr,
		"driver", cfg.RemoteDriver,
		"local_db", cfg.LocalDBPath,
	)

	engine.Run(ctx, service.RunConfig{
		Interval:            cfg.SyncInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		BackoffMin:          cfg.BackoffMin,
		BackoffMax:          cfg.BackoffMax,
		BackoffJitter:       cfg.BackoffJitter,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	engine.Close()
	<-sessionDone
	closeBackend := <-backendDone
	closeBackend()
	slog.Info("✅ Shutdown complete")
}

// dialRabbitMQ returns nil when dead letters are disabled or the broker is
// unreachable at boot; stuck operations are then only logged
func dialRabbitMQ(cfg *config.Config) *broker.RabbitMQClient {
	if cfg.RabbitMQURL == "" {
		return nil
	}
	client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, slog.Default())
	if err != nil {
		slog.Warn("RabbitMQ unavailable, dead letters disabled", "error", err)
		return nil
	}
	return client
}

// connectBackend dials the configured backend with backoff, hands it to the
// gate and signs the configured user in. It returns the backend's closer.
func connectBackend(ctx context.Context, cfg *config.Config, gate *auth.SessionGate) func() {
	noop := func() {}
	if cfg.RemoteDriver == config.DriverNone {
		slog.Warn("No remote driver configured, running local-only")
		return noop
	}

	backoff := infra.NewBackoff(cfg.BackoffMin, cfg.BackoffMax, infra.WithJitter(cfg.BackoffJitter))
	for {
		backend, closer, err := dialBackend(ctx, cfg)
		if err == nil {
			slog.Info("Backend link established 🚀", "driver", cfg.RemoteDriver)
			gate.SetBackend(backend)
			signIn(cfg, gate)
			return closer
		}

		wait := backoff.Next()
		slog.Error("Backend link failure, retrying", "driver", cfg.RemoteDriver, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return noop
		}
	}
}

func dialBackend(ctx context.Context, cfg *config.Config) (remote.Backend, func(), error) {
	switch cfg.RemoteDriver {
	case config.DriverFirebird:
		fb, err := remote.NewFirebirdBackend(ctx, cfg.FirebirdURL, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		return fb, func() { _ = fb.Close() }, nil
	default:
		pg, err := remote.NewPostgresBackend(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
}

func signIn(cfg *config.Config, gate *auth.SessionGate) {
	if cfg.UserID == "" {
		slog.Warn("SYNC_USER_ID not set, edits stay local until a user signs in")
		return
	}
	if _, err := gate.SignIn(auth.User{ID: cfg.UserID, Email: cfg.UserEmail}, cfg.SessionTTL); err != nil {
		slog.Error("Sign-in failed", "user_id", cfg.UserID, "error", err)
	}
}

// keepSessionAlive refreshes the session at half its lifetime
func keepSessionAlive(ctx context.Context, gate *auth.SessionGate, ttl time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !gate.IsAuthenticated() {
				continue
			}
			if _, err := gate.RefreshSession(ttl); err != nil {
				slog.Error("Session refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
