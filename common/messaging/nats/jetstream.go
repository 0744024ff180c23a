package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/driftline-systems/driftline-stack/common/messaging"
)

// StreamConfig defines the durable event stream.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of events in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of events in the stream.
	MaxMsgs int64
}

// DefaultEventStreamConfig returns the stream definition for ingested
// events. Retention is limits-based, not work-queue: both sink consumer
// groups must independently read every event.
func DefaultEventStreamConfig() StreamConfig {
	return StreamConfig{
		Name:     messaging.StreamEvents,
		Subjects: []string{messaging.SubjectEventsWildcard},
		MaxAge:   7 * 24 * time.Hour,
		MaxBytes: 4 * 1024 * 1024 * 1024, // 4GB
		MaxMsgs:  10_000_000,
	}
}

// ConsumerConfig defines a durable consumer group.
type ConsumerConfig struct {
	// Name is the durable consumer group name.
	Name string

	// AckWait is the time to wait for acknowledgment before redelivery.
	// Must exceed the lake sink's worst-case flush time, otherwise
	// buffered events are redelivered mid-batch.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before giving up.
	MaxDeliver int

	// MaxAckPending is maximum unacknowledged deliveries. The lake sink
	// needs at least its batch size here.
	MaxAckPending int
}

// DefaultConsumerConfig returns sensible defaults for a sink consumer.
func DefaultConsumerConfig(name string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		AckWait:       5 * time.Minute,
		MaxDeliver:    -1, // redeliver until acked; sinks own their retry budgets
		MaxAckPending: 1000,
	}
}

// JetStreamClient extends Client with JetStream persistence.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// EnsureStream creates or updates the event stream.
func (c *JetStreamClient) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish appends one event to the log keyed by session. Implements
// messaging.EventPublisher.
func (c *JetStreamClient) Publish(ctx context.Context, sessionID string, data []byte) error {
	subject := messaging.SubjectForSession(sessionID)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// GroupConsumer is a durable JetStream consumer implementing
// messaging.EventConsumer. Each sink owns exactly one.
type GroupConsumer struct {
	consumer jetstream.Consumer
	group    string
	cancel   context.CancelFunc
}

// NewGroupConsumer creates or resumes the named durable consumer on the
// event stream. A group that restarts resumes from its last committed
// cursor.
func (c *JetStreamClient) NewGroupConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (*GroupConsumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: messaging.SubjectEventsWildcard,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return &GroupConsumer{consumer: consumer, group: cfg.Name}, nil
}

// Consume delivers events serially until ctx is cancelled. A nil
// handler result acks the delivery; an error naks it for redelivery.
func (g *GroupConsumer) Consume(ctx context.Context, handler messaging.DeliveryHandler) error {
	consumeCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	// One message in flight at a time preserves log order through the
	// handler even across redeliveries.
	cc, err := g.consumer.Consume(func(msg jetstream.Msg) {
		d := wrapMsg(msg)
		if err := handler(consumeCtx, d); err != nil {
			_ = msg.NakWithDelay(5 * time.Second)
			return
		}
		_ = msg.Ack()
	}, jetstream.PullMaxMessages(1))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming for group %s: %w", g.group, err)
	}

	<-consumeCtx.Done()
	cc.Stop()
	return nil
}

// Fetch returns up to max pending deliveries, waiting up to wait for
// the first. Deliveries remain uncommitted until acked by the caller.
func (g *GroupConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]*messaging.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := g.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetch for group %s: %w", g.group, err)
	}

	var deliveries []*messaging.Delivery
	for msg := range batch.Messages() {
		deliveries = append(deliveries, wrapMsg(msg))
	}
	if err := batch.Error(); err != nil {
		return deliveries, fmt.Errorf("fetch for group %s: %w", g.group, err)
	}
	return deliveries, nil
}

// Close stops any active Consume loop. The group cursor survives.
func (g *GroupConsumer) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	return nil
}

func wrapMsg(msg jetstream.Msg) *messaging.Delivery {
	ts := time.Now()
	if meta, err := msg.Metadata(); err == nil {
		ts = meta.Timestamp
	}
	return &messaging.Delivery{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Timestamp: ts,
		AckFunc:   msg.Ack,
		NakFunc:   msg.NakWithDelay,
	}
}
