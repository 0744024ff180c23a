// Package models defines the shared event record used across the
// Driftline ingestion stack. The same flattened shape flows from the
// gateway through the durable log into both sink stores.
package models

// Event is the unit of record. Required fields are Channel, EventType
// and SessionID; everything else is optional. Events are immutable once
// validated - corrections are modeled as new events.
type Event struct {
	Channel           string         `json:"channel"`
	EventType         string         `json:"event_type"`
	SessionID         string         `json:"session_id"`
	Platform          string         `json:"platform,omitempty"`
	EventCategory     string         `json:"event_category,omitempty"`
	ResourceID        string         `json:"resource_id,omitempty"`
	ResourceTitle     string         `json:"resource_title,omitempty"`
	InteractionTarget string         `json:"interaction_target,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	DeviceID          string         `json:"device_id,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	ClientVersion     string         `json:"client_version,omitempty"`
	InteractionValue  *float64       `json:"interaction_value,omitempty"`
	InteractionText   string         `json:"interaction_text,omitempty"`
	Timestamp         string         `json:"timestamp,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// NaturalKey returns the tuple that identifies an event for upsert
// purposes in the row store. Redelivery of the same event collapses
// into one row.
func (e *Event) NaturalKey() string {
	return e.SessionID + "|" + e.Timestamp + "|" + e.EventType
}
