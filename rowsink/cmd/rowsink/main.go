package main

import (
	"context"
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
	"github.com/driftline-systems/driftline-stack/rowsink/internal/config"
	"github.com/driftline-systems/driftline-stack/rowsink/internal/consumer"
	"github.com/driftline-systems/driftline-stack/rowsink/internal/store"
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
	).With(logging.Service("rowsink"))
	logging.SetDefault(logger)

	slog.Info("Starting Row Sink consumer",
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("opensearch_url", cfg.OpenSearch.URL),
		slog.String("poison_policy", cfg.Consumer.PoisonPolicy),
	)

	rowStore, err := store.NewClient(store.Config{
		URL:             cfg.OpenSearch.URL,
		Username:        cfg.OpenSearch.Username,
		Password:        cfg.OpenSearch.Password,
		TLSSkipVerify:   cfg.OpenSearch.TLSSkipVerify,
		IndexPrefix:     cfg.OpenSearch.IndexPrefix,
		ShardCount:      cfg.OpenSearch.ShardCount,
		ReplicaCount:    cfg.OpenSearch.ReplicaCount,
		RefreshInterval: cfg.OpenSearch.RefreshInterval,
	})
	if err != nil {
		log.Fatalf("Failed to create row store client: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := rowStore.Initialize(initCtx); err != nil {
		slog.Warn("Failed to initialize row store; writes may fail until it is reachable",
			logging.Error(err))
	}
	initCancel()

	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          "driftline-rowsink",
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
		natsclient.DefaultConsumerConfig(messaging.GroupRowSink))
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

	sink := consumer.New(rowStore, consumer.Config{
		MaxRetries:   cfg.Consumer.MaxRetries,
		RetryBackoff: cfg.Consumer.RetryBackoff,
		PoisonPolicy: consumer.ParsePoisonPolicy(cfg.Consumer.PoisonPolicy),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Run(ctx, group)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("Shutting down row sink")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Fatalf("Row sink consumer error: %v", err)
		}
	}

	slog.Info("Row sink stopped")
}
