// Package batcher accumulates deliveries from the event log and flushes
// them into the lake as atomic batches. Deliveries are acked only after
// their batch commits, so the consumer group cursor never runs ahead of
// the lake; a crash between commit and ack yields redelivered events in
// a later batch, never lost ones.
package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	"github.com/driftline-systems/driftline-stack/common/models"
	"github.com/driftline-systems/driftline-stack/lakesink/internal/metrics"
)

// State is where the batcher is in its accumulate/flush cycle.
type State int32

const (
	// StateAccumulating buffers deliveries until size or timeout.
	StateAccumulating State = iota
	// StateFlushing has a commit in flight.
	StateFlushing
	// StateRecovering retries a failed commit with the buffer intact.
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ErrFlushExhausted halts the sink after a batch fails every commit
// attempt. The buffered deliveries stay unacked and come back on
// restart.
var ErrFlushExhausted = errors.New("batch flush retries exhausted")

// LakeWriter commits one batch atomically and returns its version.
type LakeWriter interface {
	CommitBatch(ctx context.Context, batchID string, events []*models.Event) (int64, error)
}

// Config tunes batch boundaries and the flush retry budget.
type Config struct {
	// BatchSize flushes once this many events are buffered.
	BatchSize int
	// BatchTimeout flushes this long after the first buffered event.
	// The clock starts per batch, not on a global ticker.
	BatchTimeout time.Duration
	// MaxFlushRetries bounds commit attempts before the sink halts.
	MaxFlushRetries int
	// FlushRetryBackoff is the delay between commit attempts, scaled by
	// attempt number.
	FlushRetryBackoff time.Duration
	// ShutdownGrace bounds the final partial-batch flush on shutdown.
	ShutdownGrace time.Duration
	// FetchWait is how long an idle fetch blocks for the first event.
	FetchWait time.Duration
}

// DefaultConfig returns the default batch tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:         100,
		BatchTimeout:      10 * time.Second,
		MaxFlushRetries:   3,
		FlushRetryBackoff: 2 * time.Second,
		ShutdownGrace:     10 * time.Second,
		FetchWait:         time.Second,
	}
}

type entry struct {
	event    *models.Event
	delivery *messaging.Delivery
}

// Batcher drives the lake sink consumer group.
type Batcher struct {
	writer LakeWriter
	cfg    Config
	logger *logging.Logger
	sleep  func(time.Duration) // injectable for tests

	buf     []entry
	firstAt time.Time

	state    atomic.Int32
	buffered atomic.Int32
}

// New creates a lake sink batcher.
func New(writer LakeWriter, cfg Config, logger *logging.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxFlushRetries <= 0 {
		cfg.MaxFlushRetries = 1
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}
	return &Batcher{
		writer: writer,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// State reports the current cycle state.
func (b *Batcher) State() State {
	return State(b.state.Load())
}

// Buffered reports how many events are accumulated and uncommitted.
func (b *Batcher) Buffered() int {
	return int(b.buffered.Load())
}

// Run consumes the event log until ctx is cancelled, then attempts a
// final flush of any partial batch within the shutdown grace period.
// Returns ErrFlushExhausted if a batch fails every commit attempt.
func (b *Batcher) Run(ctx context.Context, events messaging.EventConsumer) error {
	b.logger.Info("lake sink consuming",
		logging.ConsumerGroup(messaging.GroupLakeSink),
		logging.BatchSize(b.cfg.BatchSize),
	)

	for {
		if ctx.Err() != nil {
			return b.finalFlush()
		}

		wait := b.cfg.FetchWait
		if len(b.buf) > 0 {
			remaining := b.cfg.BatchTimeout - time.Since(b.firstAt)
			if remaining <= 0 {
				if err := b.flush(ctx); err != nil {
					return err
				}
				continue
			}
			if remaining < wait {
				wait = remaining
			}
		}

		deliveries, err := events.Fetch(ctx, b.cfg.BatchSize-len(b.buf), wait)
		if err != nil {
			if ctx.Err() != nil {
				return b.finalFlush()
			}
			b.logger.Warn("event log fetch failed", logging.Error(err))
			b.sleep(b.cfg.FetchWait)
			continue
		}

		for _, d := range deliveries {
			b.add(d)
		}

		if len(b.buf) >= b.cfg.BatchSize {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
}

// add decodes one delivery into the buffer. The delivery stays unacked
// until its batch commits.
func (b *Batcher) add(d *messaging.Delivery) {
	var event models.Event
	if err := json.Unmarshal(d.Data, &event); err != nil {
		// Undecodable payloads can never commit; ack past them so they
		// cannot wedge every future batch.
		b.logger.Error("dropping undecodable event", logging.Error(err))
		if ackErr := d.Ack(); ackErr != nil {
			b.logger.Warn("ack failed for dropped event", logging.Error(ackErr))
		}
		return
	}

	if len(b.buf) == 0 {
		b.firstAt = time.Now()
	}
	b.buf = append(b.buf, entry{event: &event, delivery: d})
	b.buffered.Store(int32(len(b.buf)))
	metrics.EventsBuffered.Set(float64(len(b.buf)))
}

// flush commits the buffered batch. On success every delivery is acked
// and the buffer resets; on failure the buffer is retained and the
// commit is retried up to MaxFlushRetries with the same batch ID.
func (b *Batcher) flush(ctx context.Context) error {
	batchID := uuid.New().String()
	events := make([]*models.Event, len(b.buf))
	for i, e := range b.buf {
		events[i] = e.event
	}

	b.setState(StateFlushing)

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxFlushRetries; attempt++ {
		start := time.Now()
		version, err := b.writer.CommitBatch(ctx, batchID, events)
		metrics.FlushDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			for _, e := range b.buf {
				if ackErr := e.delivery.Ack(); ackErr != nil {
					// The batch is committed; a failed ack means the event
					// comes back in a later batch as a duplicate row.
					b.logger.Warn("ack failed after commit", logging.Error(ackErr))
				}
			}
			metrics.BatchesCommitted.Inc()
			metrics.BatchCommitSize.Observe(float64(len(events)))
			b.logger.Info("batch committed",
				logging.BatchID(batchID),
				logging.BatchSize(len(events)),
				slog.Int64("commit_version", version),
			)
			b.buf = b.buf[:0]
			b.firstAt = time.Time{}
			b.buffered.Store(0)
			metrics.EventsBuffered.Set(0)
			b.setState(StateAccumulating)
			return nil
		}

		lastErr = err
		metrics.FlushFailures.Inc()
		b.setState(StateRecovering)
		b.logger.Error("batch commit failed",
			logging.BatchID(batchID),
			logging.BatchSize(len(events)),
			logging.Attempt(attempt),
			logging.Error(err),
		)

		if attempt < b.cfg.MaxFlushRetries {
			b.sleep(b.cfg.FlushRetryBackoff * time.Duration(attempt))
			if ctx.Err() != nil {
				break
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrFlushExhausted, lastErr)
}

// finalFlush attempts to commit a partial batch during shutdown. If it
// cannot within the grace period, the batch is abandoned unacked and
// redelivered on the next start.
func (b *Batcher) finalFlush() error {
	if len(b.buf) == 0 {
		return nil
	}

	b.logger.Info("flushing partial batch on shutdown", logging.BatchSize(len(b.buf)))
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownGrace)
	defer cancel()

	if err := b.flush(ctx); err != nil {
		b.logger.Warn("abandoning partial batch to redelivery", logging.Error(err))
	}
	return nil
}

func (b *Batcher) setState(s State) {
	b.state.Store(int32(s))
	metrics.ConsumerState.Set(float64(s))
}
