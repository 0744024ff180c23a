// Package client is the Go producer SDK for the Driftline event
// gateway. A Client is bound to one channel and one session; Track
// builds the flattened event record, stamps the client timestamp, and
// posts it to the gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftline-systems/driftline-stack/common/models"
	"github.com/driftline-systems/driftline-stack/common/schema"
)

const clientTimestampLayout = "2006-01-02T15:04:05.000Z"

// Config holds gateway connection settings and the identity fields
// stamped onto every event the client sends.
type Config struct {
	GatewayURL    string
	SessionID     string
	UserID        string
	DeviceID      string
	UserAgent     string
	ClientVersion string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client sends events for one session over one channel.
type Client struct {
	baseURL string
	http    *http.Client
	channel ChannelConfig
	cfg     Config
	now     func() time.Time
}

// New creates a client for the given channel. SessionID is required;
// everything else in cfg is optional.
func New(cfg Config, channel ChannelConfig) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	if channel.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GatewayURL, "/"),
		http:    httpClient,
		channel: channel,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Track describes one interaction beyond its event type. All fields are
// optional.
type Track struct {
	Category      string
	ResourceID    string
	ResourceTitle string
	Target        string
	Value         *float64
	Text          string
	Metadata      map[string]any

	// Timestamp overrides the client clock, for replaying events that
	// happened earlier (offline capture, backfills). Wire format, UTC.
	Timestamp string
}

// Ack is the gateway's response to an accepted event.
type Ack struct {
	Accepted  bool     `json:"accepted"`
	SessionID string   `json:"sessionId"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ValidationError is the gateway's field-by-field rejection of an
// event. Every problem is listed, not just the first.
type ValidationError struct {
	Errors []schema.FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		fields[i] = fe.Field + ": " + fe.Message
	}
	return "event rejected: " + strings.Join(fields, "; ")
}

// Track sends one event. The channel config fills channel and platform,
// the client config fills identity fields, and empty Track fields are
// simply omitted from the wire payload.
func (c *Client) Track(ctx context.Context, eventType string, t Track) (*Ack, error) {
	event := models.Event{
		Channel:           c.channel.Channel,
		EventType:         eventType,
		SessionID:         c.cfg.SessionID,
		Platform:          c.channel.Platform,
		EventCategory:     t.Category,
		ResourceID:        t.ResourceID,
		ResourceTitle:     t.ResourceTitle,
		InteractionTarget: t.Target,
		UserID:            c.cfg.UserID,
		DeviceID:          c.cfg.DeviceID,
		UserAgent:         c.cfg.UserAgent,
		ClientVersion:     c.cfg.ClientVersion,
		InteractionValue:  t.Value,
		InteractionText:   t.Text,
		Timestamp:         t.Timestamp,
		Metadata:          t.Metadata,
	}

	// Mappings fill fields the caller left empty; channel defaults fill
	// whatever remains.
	applyFieldMappings(&event, c.channel.FieldMappings)
	if event.EventCategory == "" {
		event.EventCategory = c.channel.DefaultCategory
	}
	if event.Timestamp == "" {
		event.Timestamp = c.now().UTC().Format(clientTimestampLayout)
	}

	return c.send(ctx, &event)
}

// applyFieldMappings lifts the channel's declared metadata keys onto
// flattened event fields. Lifted keys are removed from metadata so a
// value never lands twice; the caller's map is left untouched.
func applyFieldMappings(event *models.Event, mappings map[string]string) {
	if len(mappings) == 0 || len(event.Metadata) == 0 {
		return
	}

	meta := make(map[string]any, len(event.Metadata))
	for k, v := range event.Metadata {
		meta[k] = v
	}

	for key, field := range mappings {
		v, ok := meta[key]
		if !ok {
			continue
		}
		if setEventField(event, field, v) {
			delete(meta, key)
		}
	}

	if len(meta) == 0 {
		event.Metadata = nil
	} else {
		event.Metadata = meta
	}
}

// setEventField assigns v to the named flattened field when the field
// is still empty and v has the right type.
func setEventField(event *models.Event, field string, v any) bool {
	if field == "interaction_value" {
		f, ok := v.(float64)
		if !ok || event.InteractionValue != nil {
			return false
		}
		event.InteractionValue = &f
		return true
	}

	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}

	var target *string
	switch field {
	case "event_category":
		target = &event.EventCategory
	case "resource_id":
		target = &event.ResourceID
	case "resource_title":
		target = &event.ResourceTitle
	case "interaction_target":
		target = &event.InteractionTarget
	case "interaction_text":
		target = &event.InteractionText
	default:
		return false
	}

	if *target != "" {
		return false
	}
	*target = s
	return true
}

func (c *Client) send(ctx context.Context, event *models.Event) (*Ack, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var ack Ack
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
		return &ack, nil

	case http.StatusBadRequest:
		var verr ValidationError
		if err := json.NewDecoder(resp.Body).Decode(&verr); err != nil || len(verr.Errors) == 0 {
			return nil, fmt.Errorf("event rejected with status %d", resp.StatusCode)
		}
		return nil, &verr

	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("gateway not ready, retry later")

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(msg))
	}
}
