package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftline-systems/driftline-stack/common/middleware"
	"github.com/driftline-systems/driftline-stack/gateway/internal/handlers"
)

// NewRouter constructs a ServeMux with gateway API routes registered.
func NewRouter(h *handlers.EventsHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", h.HandleEvent)
	mux.HandleFunc("/health", h.Health)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	cors := middleware.CORS(middleware.DefaultCORSConfig())
	return middleware.RequestID(cors(mux))
}
