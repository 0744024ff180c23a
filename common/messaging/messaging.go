// Package messaging defines the durable event log boundary for the
// Driftline stack. The log is append-only and partitioned by session:
// writes with the same partition key are strictly ordered, independent
// named consumer groups each keep their own committed cursor, and
// delivery to a group is at-least-once. Services depend on these
// interfaces, never on a broker vendor directly.
package messaging

import (
	"context"
	"time"
)

// Delivery is one event handed to a consumer group. The cursor for the
// group does not advance until Ack is called; a crashed consumer sees
// the same delivery again on restart.
type Delivery struct {
	// Subject is the log subject the event was published to.
	Subject string

	// Data is the raw event payload.
	Data []byte

	// Timestamp is when the event was appended to the log.
	Timestamp time.Time

	// AckFunc commits the consumer group cursor past this delivery.
	AckFunc func() error

	// NakFunc requests redelivery after the given delay.
	NakFunc func(delay time.Duration) error
}

// Ack commits this delivery. Safe to call on deliveries constructed
// without an AckFunc (tests, fakes).
func (d *Delivery) Ack() error {
	if d.AckFunc == nil {
		return nil
	}
	return d.AckFunc()
}

// Nak requests redelivery after delay.
func (d *Delivery) Nak(delay time.Duration) error {
	if d.NakFunc == nil {
		return nil
	}
	return d.NakFunc(delay)
}

// DeliveryHandler processes one delivery. Returning an error leaves the
// delivery unacknowledged; the implementation schedules redelivery.
type DeliveryHandler func(ctx context.Context, d *Delivery) error

// EventPublisher appends events to the durable log.
type EventPublisher interface {
	// Publish appends one event keyed by session ID so that all events
	// for a session land on the same partition, in order. The call
	// blocks until the log has accepted the write.
	Publish(ctx context.Context, sessionID string, data []byte) error

	// IsConnected reports whether the broker connection is alive.
	IsConnected() bool

	// Close releases the connection.
	Close() error
}

// EventConsumer is a named consumer group reading the event log. The
// two sink consumers are fully independent instances of this interface
// and never interact with each other.
type EventConsumer interface {
	// Consume delivers events one at a time to handler in log order
	// until ctx is cancelled. Per-session ordering is preserved because
	// deliveries are handed out serially. Handler errors leave the
	// delivery unacknowledged.
	Consume(ctx context.Context, handler DeliveryHandler) error

	// Fetch returns up to max pending deliveries, waiting up to wait
	// for the first one. Deliveries stay uncommitted until each is
	// individually acked - this is how the lake sink defers cursor
	// commits to batch boundaries.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error)

	// Close stops the consumer. The group's committed cursor survives.
	Close() error
}
