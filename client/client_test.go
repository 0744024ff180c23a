package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-systems/driftline-stack/client"
	"github.com/driftline-systems/driftline-stack/common/models"
	"github.com/driftline-systems/driftline-stack/common/schema"
)

// gatewayStub validates incoming events like the real gateway does.
func gatewayStub(t *testing.T, received *[]models.Event) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/events", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		res := schema.ValidateMap(payload)
		if !res.Valid() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"errors": res.Errors})
			return
		}

		*received = append(*received, *res.Event)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"accepted":  true,
			"sessionId": res.Event.SessionID,
			"warnings":  res.Warnings,
		})
	}))
}

func TestNew_RequiredFields(t *testing.T) {
	_, err := client.New(client.Config{SessionID: "s"}, client.Web())
	assert.Error(t, err, "gateway URL required")

	_, err = client.New(client.Config{GatewayURL: "http://x"}, client.Web())
	assert.Error(t, err, "session ID required")

	_, err = client.New(client.Config{GatewayURL: "http://x", SessionID: "s"}, client.ChannelConfig{})
	assert.Error(t, err, "channel required")
}

func TestTrack_SendsChannelShapedEvent(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{
		GatewayURL:    srv.URL,
		SessionID:     "sess-1",
		UserID:        "user-7",
		DeviceID:      "dev-3",
		UserAgent:     "driftline-test/1.0",
		ClientVersion: "1.2.3",
	}, client.Web())
	require.NoError(t, err)

	value := 87.5
	ack, err := c.Track(context.Background(), "scroll_depth", client.Track{
		ResourceID:    "article-42",
		ResourceTitle: "How Tides Work",
		Target:        "article-body",
		Value:         &value,
		Metadata:      map[string]any{"experiment": "B"},
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "sess-1", ack.SessionID)

	require.Len(t, received, 1)
	e := received[0]
	assert.Equal(t, "web", e.Channel)
	assert.Equal(t, "web", e.Platform)
	assert.Equal(t, "user_action", e.EventCategory, "channel default category applies")
	assert.Equal(t, "scroll_depth", e.EventType)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "user-7", e.UserID)
	assert.Equal(t, "article-42", e.ResourceID)
	require.NotNil(t, e.InteractionValue)
	assert.Equal(t, 87.5, *e.InteractionValue)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, e.Timestamp)
}

func TestTrack_CategoryOverridesDefault(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-2"}, client.Chat())
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "message_sent", client.Track{Category: "error"})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "chat", received[0].Channel)
	assert.Equal(t, "error", received[0].EventCategory)
}

func TestTrack_FieldMappingsLiftMetadata(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-7"}, client.Chat())
	require.NoError(t, err)

	meta := map[string]any{"message": "hello there", "thread": "t-9"}
	_, err = c.Track(context.Background(), "message_sent", client.Track{Metadata: meta})
	require.NoError(t, err)

	require.Len(t, received, 1)
	e := received[0]
	assert.Equal(t, "hello there", e.InteractionText, "mapped key lands on the flattened field")
	assert.NotContains(t, e.Metadata, "message", "lifted key leaves metadata")
	assert.Equal(t, "t-9", e.Metadata["thread"], "unmapped keys stay put")

	// The caller's map is not mutated.
	assert.Equal(t, "hello there", meta["message"])
}

func TestTrack_ExplicitFieldWinsOverMapping(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-8"}, client.Speech())
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "utterance", client.Track{
		Text:     "explicit transcript",
		Metadata: map[string]any{"transcript": "mapped transcript"},
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "explicit transcript", received[0].InteractionText)
	assert.Equal(t, "mapped transcript", received[0].Metadata["transcript"],
		"unlifted key stays in metadata")
}

func TestTrack_CustomChannelMapsInteractionValue(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-9"},
		client.ChannelConfig{
			Channel:         "web",
			Platform:        "web",
			DefaultCategory: "user_action",
			FieldMappings:   map[string]string{"score": "interaction_value"},
		})
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "rating", client.Track{
		Metadata: map[string]any{"score": 4.5},
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.NotNil(t, received[0].InteractionValue)
	assert.Equal(t, 4.5, *received[0].InteractionValue)
	assert.Empty(t, received[0].Metadata)
}

func TestTrack_TimestampOverrideForReplay(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-3"}, client.Mobile("ios"))
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "app_open", client.Track{
		Timestamp: "2024-06-01T08:30:00.000Z",
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "2024-06-01T08:30:00.000Z", received[0].Timestamp)
	assert.Equal(t, "ios", received[0].Platform)
}

func TestTrack_ValidationErrorSurfacesAllFields(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	// An empty event type trips the contract.
	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-4"}, client.Web())
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "", client.Track{})
	require.Error(t, err)

	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "event_type", verr.Errors[0].Field)
	assert.Empty(t, received)
}

func TestTrack_GatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "event log unavailable, retry", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-5"}, client.Web())
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "click", client.Track{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry")
}

func TestTrack_WarningsPassedThrough(t *testing.T) {
	var received []models.Event
	srv := gatewayStub(t, &received)
	defer srv.Close()

	c, err := client.New(client.Config{GatewayURL: srv.URL, SessionID: "sess-6"},
		client.ChannelConfig{Channel: "kiosk", Platform: "kiosk", DefaultCategory: "user_action"})
	require.NoError(t, err)

	ack, err := c.Track(context.Background(), "tap", client.Track{})
	require.NoError(t, err)
	require.Len(t, ack.Warnings, 1)
	assert.Contains(t, ack.Warnings[0], "kiosk")
}
