package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	natsclient "github.com/driftline-systems/driftline-stack/common/messaging/nats"
	"github.com/driftline-systems/driftline-stack/lakesink/internal/batcher"
	"github.com/driftline-systems/driftline-stack/lakesink/internal/config"
	"github.com/driftline-systems/driftline-stack/lakesink/lake"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("lakesink"))
	logging.SetDefault(logger)

	slog.Info("Starting Lake Sink consumer",
		slog.String("nats_url", cfg.NATS.URL),
		slog.Int("batch_size", cfg.Batch.Size),
		slog.Duration("batch_timeout", cfg.Batch.Timeout),
	)

	if err := lake.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run lake migrations: %v", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := lake.New(connectCtx, cfg.Database.URL)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect to lake database: %v", err)
	}
	defer store.Close()

	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          "driftline-lakesink",
		MaxReconnects: -1,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := js.EnsureStream(ctx, natsclient.DefaultEventStreamConfig()); err != nil {
		log.Fatalf("Failed to ensure event stream: %v", err)
	}

	group, err := js.NewGroupConsumer(ctx, messaging.StreamEvents,
		natsclient.DefaultConsumerConfig(messaging.GroupLakeSink))
	if err != nil {
		log.Fatalf("Failed to create consumer group: %v", err)
	}
	defer group.Close()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		slog.Info("Metrics listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server error", logging.Error(err))
		}
	}()

	sink := batcher.New(store, batcher.Config{
		BatchSize:         cfg.Batch.Size,
		BatchTimeout:      cfg.Batch.Timeout,
		MaxFlushRetries:   cfg.Batch.MaxFlushRetries,
		FlushRetryBackoff: cfg.Batch.FlushRetryBackoff,
		ShutdownGrace:     cfg.Batch.ShutdownGrace,
		FetchWait:         time.Second,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Run(ctx, group)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("Shutting down lake sink")
		cancel()
		// Run finishes its final partial-batch flush before returning.
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Lake sink consumer error: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Lake sink consumer error: %v", err)
		}
	}

	slog.Info("Lake sink stopped")
}
