package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	"github.com/driftline-systems/driftline-stack/common/models"
)

// fakeLake records commits and fails the first failures attempts.
type fakeLake struct {
	mu       sync.Mutex
	failures int
	calls    int
	batchIDs []string
	batches  [][]*models.Event
	onCommit func()
}

func (f *fakeLake) CommitBatch(ctx context.Context, batchID string, events []*models.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batchIDs = append(f.batchIDs, batchID)
	if f.onCommit != nil {
		f.onCommit()
	}
	if f.calls <= f.failures {
		return 0, errors.New("deadlock detected")
	}
	f.batches = append(f.batches, events)
	return int64(len(f.batches)), nil
}

func (f *fakeLake) committed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeLake) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.batchIDs...)
}

// fakeFeed hands out queued deliveries through Fetch.
type fakeFeed struct {
	mu    sync.Mutex
	queue []*messaging.Delivery
}

func (f *fakeFeed) Consume(ctx context.Context, handler messaging.DeliveryHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) Fetch(ctx context.Context, max int, wait time.Duration) ([]*messaging.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	n := len(f.queue)
	if n > max {
		n = max
	}
	out := f.queue[:n:n]
	f.queue = f.queue[n:]
	f.mu.Unlock()

	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return out, nil
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) push(d ...*messaging.Delivery) {
	f.mu.Lock()
	f.queue = append(f.queue, d...)
	f.mu.Unlock()
}

func eventDelivery(t *testing.T, sessionID string, acks *atomic.Int32) *messaging.Delivery {
	t.Helper()
	data, err := json.Marshal(&models.Event{
		Channel:   "web",
		EventType: "click",
		SessionID: sessionID,
		Timestamp: "2024-12-31T10:00:00.000Z",
	})
	require.NoError(t, err)
	return &messaging.Delivery{
		Data:    data,
		AckFunc: func() error { acks.Add(1); return nil },
	}
}

func testConfig() Config {
	return Config{
		BatchSize:         3,
		BatchTimeout:      30 * time.Millisecond,
		MaxFlushRetries:   2,
		FlushRetryBackoff: time.Millisecond,
		ShutdownGrace:     100 * time.Millisecond,
		FetchWait:         5 * time.Millisecond,
	}
}

func newTestBatcher(lake LakeWriter, cfg Config) *Batcher {
	b := New(lake, cfg, logging.Default())
	b.sleep = func(time.Duration) {}
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	lake := &fakeLake{}
	feed := &fakeFeed{}
	var acks atomic.Int32

	feed.push(
		eventDelivery(t, "sess-1", &acks),
		eventDelivery(t, "sess-2", &acks),
		eventDelivery(t, "sess-3", &acks),
	)

	b := newTestBatcher(lake, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return lake.committed() == 1 })
	cancel()
	require.NoError(t, <-done)

	require.Len(t, lake.batches[0], 3)
	assert.Equal(t, int32(3), acks.Load())
	assert.Zero(t, b.Buffered())
	assert.Equal(t, StateAccumulating, b.State())
}

func TestBatcher_FlushesOnTimeout(t *testing.T) {
	lake := &fakeLake{}
	feed := &fakeFeed{}
	var acks atomic.Int32

	// One event, far below BatchSize.
	feed.push(eventDelivery(t, "sess-1", &acks))

	cfg := testConfig()
	cfg.BatchSize = 100
	b := newTestBatcher(lake, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return lake.committed() == 1 })
	cancel()
	require.NoError(t, <-done)

	require.Len(t, lake.batches[0], 1)
	assert.Equal(t, int32(1), acks.Load())
}

func TestBatcher_RetryReusesBatchID_AcksAfterCommitOnly(t *testing.T) {
	var acks atomic.Int32
	lake := &fakeLake{failures: 1}
	lake.onCommit = func() {
		// No delivery is ever acked before a commit succeeds.
		assert.Zero(t, acks.Load())
	}
	feed := &fakeFeed{}

	feed.push(
		eventDelivery(t, "sess-1", &acks),
		eventDelivery(t, "sess-2", &acks),
		eventDelivery(t, "sess-3", &acks),
	)

	b := newTestBatcher(lake, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return lake.committed() == 1 })
	cancel()
	require.NoError(t, <-done)

	ids := lake.ids()
	require.Len(t, ids, 2, "one failed attempt plus one success")
	assert.Equal(t, ids[0], ids[1], "retries recommit the same batch")
	assert.Equal(t, int32(3), acks.Load())
}

func TestBatcher_ExhaustedRetriesHaltWithBufferUnacked(t *testing.T) {
	var acks atomic.Int32
	lake := &fakeLake{failures: 100}
	feed := &fakeFeed{}

	feed.push(
		eventDelivery(t, "sess-1", &acks),
		eventDelivery(t, "sess-2", &acks),
		eventDelivery(t, "sess-3", &acks),
	)

	b := newTestBatcher(lake, testConfig())
	err := b.Run(context.Background(), feed)

	assert.ErrorIs(t, err, ErrFlushExhausted)
	assert.Equal(t, 2, lake.calls, "retry budget is bounded")
	assert.Zero(t, acks.Load(), "nothing is acked when the batch never commits")
	assert.Equal(t, 3, b.Buffered(), "buffer is retained for redelivery semantics")
	assert.Equal(t, StateRecovering, b.State())
}

func TestBatcher_FinalFlushOnShutdown(t *testing.T) {
	var acks atomic.Int32
	lake := &fakeLake{}
	feed := &fakeFeed{}

	feed.push(
		eventDelivery(t, "sess-1", &acks),
		eventDelivery(t, "sess-2", &acks),
	)

	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.BatchTimeout = time.Hour // only shutdown can trigger the flush
	b := newTestBatcher(lake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return b.Buffered() == 2 })
	cancel()

	require.NoError(t, <-done)
	require.Equal(t, 1, lake.committed())
	assert.Len(t, lake.batches[0], 2)
	assert.Equal(t, int32(2), acks.Load())
}

func TestBatcher_ShutdownFlushFailureAbandonsToRedelivery(t *testing.T) {
	var acks atomic.Int32
	lake := &fakeLake{failures: 100}
	feed := &fakeFeed{}

	feed.push(eventDelivery(t, "sess-1", &acks))

	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.BatchTimeout = time.Hour
	b := newTestBatcher(lake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return b.Buffered() == 1 })
	cancel()

	// The abandoned batch is not a fatal error at shutdown.
	require.NoError(t, <-done)
	assert.Zero(t, acks.Load())
}

func TestBatcher_UndecodableDeliveryAckedAndExcluded(t *testing.T) {
	var acks atomic.Int32
	var junkAcked atomic.Bool
	lake := &fakeLake{}
	feed := &fakeFeed{}

	feed.push(
		&messaging.Delivery{
			Data:    []byte("not json"),
			AckFunc: func() error { junkAcked.Store(true); return nil },
		},
		eventDelivery(t, "sess-1", &acks),
		eventDelivery(t, "sess-2", &acks),
		eventDelivery(t, "sess-3", &acks),
	)

	b := newTestBatcher(lake, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, feed) }()

	waitFor(t, func() bool { return lake.committed() == 1 })
	cancel()
	require.NoError(t, <-done)

	assert.True(t, junkAcked.Load(), "junk is acked so it cannot wedge future batches")
	assert.Len(t, lake.batches[0], 3)
}

func TestBatcher_EmptyBufferShutdownCommitsNothing(t *testing.T) {
	lake := &fakeLake{}
	feed := &fakeFeed{}

	b := newTestBatcher(lake, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, b.Run(ctx, feed))
	assert.Zero(t, lake.calls)
}
