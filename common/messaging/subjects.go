package messaging

import "strings"

// Subject scheme for the event log. One stream captures everything
// under events.>; each session maps to its own subject so the log
// preserves per-session order end to end.
const (
	// StreamEvents is the durable stream holding all ingested events.
	StreamEvents = "EVENTS"

	// SubjectEventsPrefix is the subject prefix for ingested events.
	// Append a partition token: events.ingest.<session>
	SubjectEventsPrefix = "events.ingest"

	// SubjectEventsWildcard matches every ingested event.
	SubjectEventsWildcard = "events.ingest.>"
)

// Consumer group names. Each sink registers under a distinct, stable
// identifier so the log tracks two independent cursors.
const (
	GroupRowSink  = "rowsink"
	GroupLakeSink = "lakesink"
)

// SubjectForSession maps a session ID to its log subject. Characters
// that are not valid subject tokens are folded to '_'; distinct
// sessions may share a subject after folding, which only coarsens
// partitioning and never breaks per-session order.
func SubjectForSession(sessionID string) string {
	return SubjectEventsPrefix + "." + subjectToken(sessionID)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
