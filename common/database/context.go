// Package database bounds the sinks' storage operations with tiered
// deadlines. The tiers match blast radius: a read query should give up
// long before a whole-batch commit does.
package database

import (
	"context"
	"time"
)

// Op classifies a storage operation for deadline purposes.
type Op int

const (
	// Query covers reads: status lookups, time-travel queries.
	Query Op = iota

	// Write covers single-row writes: the row sink's per-event upsert.
	Write

	// Bulk covers whole-batch commits and schema migrations.
	Bulk
)

func (o Op) timeout() time.Duration {
	switch o {
	case Write:
		return 10 * time.Second
	case Bulk:
		return 30 * time.Second
	default:
		return 5 * time.Second
	}
}

// Context derives a context bounded by the operation's deadline tier.
func Context(parent context.Context, op Op) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, op.timeout())
}
