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

	"github.com/Guizzs26/tdee-sync/internal/broker"
	"github.com/Guizzs26/tdee-sync/internal/config"
	"github.com/Guizzs26/tdee-sync/pkg/infra"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	if cfg.RabbitMQURL == "" {
		logger.Error("CRITICAL: RABBITMQ_URL environment variable is missing")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Dead-letter archiver initializing...",
		"queue", cfg.DeadLetterQueue,
		"archive", cfg.DeadLetterArchive,
	)

	sink := &lumberjack.Logger{
		Filename:   cfg.DeadLetterArchive,
		MaxSize:    50, // megabytes
		MaxBackups: 10,
	}
	defer sink.Close()
	archive := broker.NewArchive(sink, logger)

	go startObservabilityServer(ctx, cfg.ArchiveHTTPAddr, logger)

	connBackoff := infra.NewBackoff(time.Second, cfg.BackoffMax, infra.WithJitter(cfg.BackoffJitter))

	for {
		consumer, err := broker.NewDeadLetterConsumer(cfg.RabbitMQURL, cfg.DeadLetterQueue, logger)
		if err != nil {
			wait := connBackoff.Next()
			logger.Error("RabbitMQ connection failed, retrying...", "wait_duration", wait, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		connBackoff.Reset()
		logger.Info("✅ Connected to Broker. Archiving dead letters...")

		err = consumer.Listen(ctx, archive.HandleDeadLetter)
		consumer.Close()
		if err != nil {
			logger.Error("⚠️ Consumer connection lost", "error", err)
		}
		if ctx.Err() != nil {
			logger.Info("🛑 Shutdown complete")
			return
		}
	}
}

func startObservabilityServer(ctx context.Context, addr string, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ARCHIVER ALIVE"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	logger.Info("📊 Observability server online", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Observability server failed", "error", err)
	}
}
