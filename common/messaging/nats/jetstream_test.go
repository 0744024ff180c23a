package nats_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/driftline-systems/driftline-stack/common/messaging"
	natsclient "github.com/driftline-systems/driftline-stack/common/messaging/nats"
)

// setupJetStream starts a JetStream-enabled NATS container and returns
// a connected client with the event stream created.
func setupJetStream(t *testing.T) *natsclient.JetStreamClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"--jetstream"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	client, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           fmt.Sprintf("nats://%s:%s", host, port.Port()),
		Name:          "jetstream-test",
		MaxReconnects: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.EnsureStream(ctx, natsclient.DefaultEventStreamConfig()))
	return client
}

// collectEvents runs a group's Consume loop until want events arrived.
func collectEvents(t *testing.T, client *natsclient.JetStreamClient, group string, want int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	consumer, err := client.NewGroupConsumer(ctx, messaging.StreamEvents,
		natsclient.DefaultConsumerConfig(group))
	require.NoError(t, err)
	defer consumer.Close()

	var got []string
	err = consumer.Consume(ctx, func(ctx context.Context, d *messaging.Delivery) error {
		got = append(got, string(d.Data))
		if len(got) == want {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, want, "group %s did not receive every event", group)
	return got
}

// sessionOrder filters the received payloads down to one session's.
func sessionOrder(events []string, prefix string) []string {
	var seq []string
	for _, e := range events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			seq = append(seq, e)
		}
	}
	return seq
}

func TestJetStream_GroupsFanOutIndependently(t *testing.T) {
	client := setupJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Two sessions, interleaved appends.
	payloads := []struct{ session, data string }{
		{"alpha", "alpha-1"},
		{"beta", "beta-1"},
		{"alpha", "alpha-2"},
		{"beta", "beta-2"},
		{"alpha", "alpha-3"},
		{"beta", "beta-3"},
	}
	for _, p := range payloads {
		require.NoError(t, client.Publish(ctx, p.session, []byte(p.data)))
	}

	// Each named group reads the full log, with per-session order intact.
	for _, group := range []string{messaging.GroupRowSink, messaging.GroupLakeSink} {
		got := collectEvents(t, client, group, len(payloads))
		assert.Equal(t, []string{"alpha-1", "alpha-2", "alpha-3"}, sessionOrder(got, "alpha"))
		assert.Equal(t, []string{"beta-1", "beta-2", "beta-3"}, sessionOrder(got, "beta"))
	}
}

func TestJetStream_RedeliveryAndCursorResume(t *testing.T) {
	client := setupJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 1; i <= 3; i++ {
		require.NoError(t, client.Publish(ctx, "gamma", []byte(fmt.Sprintf("gamma-%d", i))))
	}

	cfg := natsclient.DefaultConsumerConfig("cursor-check")
	consumer, err := client.NewGroupConsumer(ctx, messaging.StreamEvents, cfg)
	require.NoError(t, err)

	fetchOne := func(c messaging.EventConsumer) *messaging.Delivery {
		deliveries, err := c.Fetch(ctx, 1, 5*time.Second)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		return deliveries[0]
	}

	// A nak'd delivery comes back; the cursor has not moved.
	first := fetchOne(consumer)
	assert.Equal(t, "gamma-1", string(first.Data))
	require.NoError(t, first.Nak(0))

	redelivered := fetchOne(consumer)
	assert.Equal(t, "gamma-1", string(redelivered.Data))
	require.NoError(t, redelivered.Ack())

	second := fetchOne(consumer)
	assert.Equal(t, "gamma-2", string(second.Data))
	require.NoError(t, second.Ack())
	require.NoError(t, consumer.Close())

	// Acks are fire-and-forget; give the server a beat to commit the
	// cursor before the group restarts.
	time.Sleep(500 * time.Millisecond)

	// A restarted group resumes past its committed cursor.
	resumed, err := client.NewGroupConsumer(ctx, messaging.StreamEvents, cfg)
	require.NoError(t, err)
	defer resumed.Close()

	third := fetchOne(resumed)
	assert.Equal(t, "gamma-3", string(third.Data))
	require.NoError(t, third.Ack())
}
