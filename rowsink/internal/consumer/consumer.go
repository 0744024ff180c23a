// Package consumer replicates the event log into the row store. One
// write per delivered event, acked only after the write lands, so the
// consumer group cursor never runs ahead of the store.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftline-systems/driftline-stack/common/database"
	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	"github.com/driftline-systems/driftline-stack/common/models"
	"github.com/driftline-systems/driftline-stack/rowsink/internal/metrics"
)

// PoisonPolicy decides what happens when an event exhausts its write
// retries.
type PoisonPolicy string

const (
	// PoisonSkip logs the failure and advances past the event. Default:
	// this path favors freshness over completeness.
	PoisonSkip PoisonPolicy = "skip"

	// PoisonHalt refuses to advance; the event is redelivered until an
	// operator intervenes.
	PoisonHalt PoisonPolicy = "halt"
)

// ParsePoisonPolicy maps a config string to a policy, defaulting to skip.
func ParsePoisonPolicy(s string) PoisonPolicy {
	if s == string(PoisonHalt) {
		return PoisonHalt
	}
	return PoisonSkip
}

// ErrPoisonEvent marks an event that failed every write attempt under
// the halt policy.
var ErrPoisonEvent = errors.New("poison event: write retries exhausted")

// RowStore is the write surface of the row store.
type RowStore interface {
	Upsert(ctx context.Context, event *models.Event) error
}

// Config tunes the per-event retry budget.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	PoisonPolicy PoisonPolicy
}

// DefaultConfig returns the default retry budget.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		PoisonPolicy: PoisonSkip,
	}
}

// Consumer drives the row sink consumer group.
type Consumer struct {
	store  RowStore
	cfg    Config
	logger *logging.Logger
	sleep  func(time.Duration) // injectable for tests
}

// New creates a row sink consumer.
func New(store RowStore, cfg Config, logger *logging.Logger) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Consumer{
		store:  store,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Run consumes deliveries until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, events messaging.EventConsumer) error {
	c.logger.Info("row sink consuming", logging.ConsumerGroup(messaging.GroupRowSink))
	return events.Consume(ctx, c.Handle)
}

// Handle processes one delivery. A nil return acks the delivery and
// commits the cursor; an error leaves it for redelivery.
func (c *Consumer) Handle(ctx context.Context, d *messaging.Delivery) error {
	metrics.EventsConsumed.Inc()

	var event models.Event
	if err := json.Unmarshal(d.Data, &event); err != nil {
		// Undecodable payloads can never succeed; advancing is the only
		// sane option regardless of poison policy.
		c.logger.Error("dropping undecodable event", logging.Error(err))
		metrics.PoisonEvents.Inc()
		return nil
	}

	if err := c.writeWithRetry(ctx, &event); err != nil {
		metrics.PoisonEvents.Inc()
		if c.cfg.PoisonPolicy == PoisonHalt {
			c.logger.Error("halting on poison event",
				logging.SessionID(event.SessionID),
				logging.EventType(event.EventType),
				logging.Error(err),
			)
			return fmt.Errorf("%w: %v", ErrPoisonEvent, err)
		}
		c.logger.Error("skipping poison event",
			logging.SessionID(event.SessionID),
			logging.EventType(event.EventType),
			logging.Error(err),
		)
		return nil
	}
	return nil
}

func (c *Consumer) writeWithRetry(ctx context.Context, event *models.Event) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		writeCtx, cancel := database.Context(ctx, database.Write)
		lastErr = c.store.Upsert(writeCtx, event)
		cancel()
		metrics.WriteDuration.Observe(time.Since(start).Seconds())
		if lastErr == nil {
			return nil
		}

		if attempt < c.cfg.MaxRetries {
			metrics.WriteRetries.Inc()
			c.logger.Warn("row store write failed, retrying",
				logging.SessionID(event.SessionID),
				logging.Attempt(attempt),
				logging.Error(lastErr),
			)
			c.sleep(c.cfg.RetryBackoff * time.Duration(attempt))
		}
	}
	return lastErr
}
