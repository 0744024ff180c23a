package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftline-systems/driftline-stack/common/httputil"
	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/schema"
	"github.com/driftline-systems/driftline-stack/gateway/internal/metrics"
	"github.com/driftline-systems/driftline-stack/gateway/internal/publish"
	"github.com/driftline-systems/driftline-stack/gateway/internal/ratelimit"
)

// serverTimestampLayout matches the contract's ISO-8601 UTC pattern
// with milliseconds.
const serverTimestampLayout = "2006-01-02T15:04:05.000Z"

// Publisher is the slice of the publish state machine the handler
// needs. Satisfied by *publish.Publisher and by fakes in tests.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, data []byte) error
	Ready() bool
	State() publish.State
}

// EventsHandler turns validated submissions into log publications.
type EventsHandler struct {
	publisher    Publisher
	limiter      ratelimit.RateLimiter
	maxEventSize int64
	logger       *logging.Logger
	now          func() time.Time
}

func NewEventsHandler(publisher Publisher, limiter ratelimit.RateLimiter, maxEventSize int, logger *logging.Logger) *EventsHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	return &EventsHandler{
		publisher:    publisher,
		limiter:      limiter,
		maxEventSize: int64(maxEventSize),
		logger:       logger,
		now:          time.Now,
	}
}

// acceptedResponse is the 200 body for POST /events.
type acceptedResponse struct {
	Accepted  bool     `json:"accepted"`
	SessionID string   `json:"sessionId"`
	Warnings  []string `json:"warnings,omitempty"`
}

// HandleEvent accepts one event: validate, stamp, publish.
func (h *EventsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxEventSize))
	if err != nil {
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()
	metrics.EventBytesTotal.Add(float64(len(body)))

	res := schema.Validate(body)
	if !res.Valid() {
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		httputil.WriteErrors(w, http.StatusBadRequest, res.Errors)
		return
	}

	event := res.Event

	// Limiting happens after validation so the window can be keyed by
	// session as well as source IP.
	limitKey := ratelimit.ClientKey(getClientIP(r), event.SessionID)
	allowed, err := h.limiter.Allow(r.Context(), limitKey)
	if err != nil {
		// Limiter outage must not block ingestion.
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", logging.Error(err))
		allowed = true
	}
	if !allowed {
		metrics.EventsTotal.WithLabelValues("rate_limited").Inc()
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if event.Timestamp == "" {
		event.Timestamp = h.now().UTC().Format(serverTimestampLayout)
	}
	if len(res.Warnings) > 0 {
		metrics.ValidationWarnings.Inc()
		h.logger.InfoContext(r.Context(), "event accepted with warnings",
			logging.SessionID(event.SessionID),
			logging.Channel(event.Channel),
			"warnings", res.Warnings,
		)
	}

	data, err := json.Marshal(event)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("error").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}

	if err := h.publisher.Publish(r.Context(), event.SessionID, data); err != nil {
		metrics.EventsTotal.WithLabelValues("unavailable").Inc()
		h.logger.WarnContext(r.Context(), "publish rejected",
			logging.SessionID(event.SessionID), logging.Error(err))
		w.Header().Set("Retry-After", "1")
		httputil.WriteError(w, http.StatusServiceUnavailable, "event log unavailable, retry")
		return
	}

	metrics.EventsTotal.WithLabelValues("accepted").Inc()
	httputil.WriteJSON(w, http.StatusOK, acceptedResponse{
		Accepted:  true,
		SessionID: event.SessionID,
		Warnings:  res.Warnings,
	})
}

// Health reports gateway liveness and publisher readiness.
func (h *EventsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ready := h.publisher.Ready()
	status := "ok"
	if !ready {
		status = h.publisher.State().String()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"publisherReady": ready,
		"timestamp":      h.now().UTC().Format(serverTimestampLayout),
	})
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
