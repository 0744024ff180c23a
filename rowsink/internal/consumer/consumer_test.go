package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	"github.com/driftline-systems/driftline-stack/common/models"
)

// mockStore fails the first failures upserts, then succeeds.
type mockStore struct {
	failures  int
	callCount int
	events    []*models.Event
}

func (m *mockStore) Upsert(ctx context.Context, event *models.Event) error {
	m.callCount++
	if m.callCount <= m.failures {
		return errors.New("cluster_block_exception")
	}
	m.events = append(m.events, event)
	return nil
}

func newTestConsumer(store RowStore, policy PoisonPolicy) *Consumer {
	c := New(store, Config{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		PoisonPolicy: policy,
	}, logging.Default())
	c.sleep = func(time.Duration) {}
	return c
}

func delivery(t *testing.T, event *models.Event) *messaging.Delivery {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &messaging.Delivery{Data: data}
}

func TestParsePoisonPolicy(t *testing.T) {
	assert.Equal(t, PoisonHalt, ParsePoisonPolicy("halt"))
	assert.Equal(t, PoisonSkip, ParsePoisonPolicy("skip"))
	assert.Equal(t, PoisonSkip, ParsePoisonPolicy(""))
	assert.Equal(t, PoisonSkip, ParsePoisonPolicy("whatever"))
}

func TestHandle_WritesAndAcks(t *testing.T) {
	store := &mockStore{}
	c := newTestConsumer(store, PoisonSkip)

	event := &models.Event{Channel: "web", EventType: "click", SessionID: "sess-1"}
	err := c.Handle(context.Background(), delivery(t, event))

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, "sess-1", store.events[0].SessionID)
}

func TestHandle_RetriesTransientFailure(t *testing.T) {
	store := &mockStore{failures: 2}
	c := newTestConsumer(store, PoisonSkip)

	err := c.Handle(context.Background(), delivery(t, &models.Event{SessionID: "sess-1"}))

	require.NoError(t, err)
	assert.Equal(t, 3, store.callCount)
	assert.Len(t, store.events, 1)
}

func TestHandle_SkipPolicyAdvancesPastPoison(t *testing.T) {
	store := &mockStore{failures: 100}
	c := newTestConsumer(store, PoisonSkip)

	err := c.Handle(context.Background(), delivery(t, &models.Event{SessionID: "sess-1"}))

	// Nil return acks the delivery: the group cursor moves on.
	assert.NoError(t, err)
	assert.Equal(t, 3, store.callCount, "retry budget is bounded")
}

func TestHandle_HaltPolicyRefusesToAdvance(t *testing.T) {
	store := &mockStore{failures: 100}
	c := newTestConsumer(store, PoisonHalt)

	err := c.Handle(context.Background(), delivery(t, &models.Event{SessionID: "sess-1"}))

	assert.ErrorIs(t, err, ErrPoisonEvent)
	assert.Equal(t, 3, store.callCount)
}

func TestHandle_UndecodableAlwaysAcked(t *testing.T) {
	for _, policy := range []PoisonPolicy{PoisonSkip, PoisonHalt} {
		store := &mockStore{}
		c := newTestConsumer(store, policy)

		err := c.Handle(context.Background(), &messaging.Delivery{Data: []byte("not json")})

		assert.NoError(t, err)
		assert.Zero(t, store.callCount, "undecodable events never reach the store")
	}
}

func TestHandle_ContextCancelledStopsRetrying(t *testing.T) {
	store := &mockStore{failures: 100}
	c := newTestConsumer(store, PoisonHalt)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(time.Duration) { cancel() }

	err := c.Handle(ctx, delivery(t, &models.Event{SessionID: "sess-1"}))

	assert.Error(t, err)
	assert.Less(t, store.callCount, 3)
}

func TestWriteWithRetry_BackoffGrows(t *testing.T) {
	store := &mockStore{failures: 2}
	c := newTestConsumer(store, PoisonSkip)

	var delays []time.Duration
	c.sleep = func(d time.Duration) { delays = append(delays, d) }

	require.NoError(t, c.writeWithRetry(context.Background(), &models.Event{}))
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
}
