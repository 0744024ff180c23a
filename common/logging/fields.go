package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService       = "service"
	FieldSessionID     = "session_id"
	FieldChannel       = "channel"
	FieldEventType     = "event_type"
	FieldConsumerGroup = "consumer_group"
	FieldBatchID       = "batch_id"
	FieldBatchSize     = "batch_size"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldAttempt       = "attempt"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// SessionID returns a slog attribute for an event session ID.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// Channel returns a slog attribute for an event channel.
func Channel(channel string) slog.Attr {
	return slog.String(FieldChannel, channel)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// ConsumerGroup returns a slog attribute for a consumer group name.
func ConsumerGroup(group string) slog.Attr {
	return slog.String(FieldConsumerGroup, group)
}

// BatchID returns a slog attribute for a lake batch ID.
func BatchID(id string) slog.Attr {
	return slog.String(FieldBatchID, id)
}

// BatchSize returns a slog attribute for a batch event count.
func BatchSize(n int) slog.Attr {
	return slog.Int(FieldBatchSize, n)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Attempt returns a slog attribute for a retry attempt counter.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}
