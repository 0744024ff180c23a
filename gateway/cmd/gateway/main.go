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

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	natsclient "github.com/driftline-systems/driftline-stack/common/messaging/nats"
	"github.com/driftline-systems/driftline-stack/gateway/internal/config"
	"github.com/driftline-systems/driftline-stack/gateway/internal/handlers"
	"github.com/driftline-systems/driftline-stack/gateway/internal/publish"
	"github.com/driftline-systems/driftline-stack/gateway/internal/ratelimit"
	"github.com/driftline-systems/driftline-stack/gateway/internal/server"
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
	).With(logging.Service("gateway"))
	logging.SetDefault(logger)

	slog.Info("Starting Gateway service",
		slog.Int("port", cfg.Server.Port),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Rate limiter
	var rateLimiter ratelimit.RateLimiter
	if cfg.Redis.Enabled && cfg.Ingestion.RateLimitEnabled {
		limiter, err := ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
			false,
		)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without",
				logging.Error(err))
			rateLimiter = &ratelimit.NoOpRateLimiter{}
		} else {
			rateLimiter = limiter
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.Ingestion.RateLimitRequests),
				slog.Duration("window", cfg.Ingestion.RateLimitWindow),
			)
		}
	} else {
		rateLimiter = &ratelimit.NoOpRateLimiter{}
	}
	defer rateLimiter.Close()

	// Publisher with readiness state machine. The connector dials NATS
	// and ensures the event stream exists before reporting ready.
	connector := func(ctx context.Context) (messaging.EventPublisher, error) {
		js, err := natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "driftline-gateway",
			MaxReconnects: 0, // the publish state machine owns redialing
			ReconnectWait: cfg.NATS.BackoffBase,
			Timeout:       cfg.NATS.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := js.EnsureStream(ctx, natsclient.DefaultEventStreamConfig()); err != nil {
			js.Close()
			return nil, err
		}
		return js, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := publish.New(connector, publish.Config{
		BackoffBase:     cfg.NATS.BackoffBase,
		BackoffMax:      cfg.NATS.BackoffMax,
		ConnectAttempts: cfg.NATS.ConnectAttempts,
	}, logger)
	publisher.Start(ctx)
	defer publisher.Close()

	handler := handlers.NewEventsHandler(publisher, rateLimiter, cfg.Ingestion.MaxEventSize, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Gateway listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Gateway stopped")
}
