package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/streamer/internal/stream"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	stream StreamController
	broker messaging.Client
	store  Pinger
	now    func() time.Time
}

// NewHealthHandler creates health handlers. broker and store may be nil when
// the dependency is not configured.
func NewHealthHandler(stream StreamController, broker messaging.Client, store Pinger) *HealthHandler {
	return &HealthHandler{stream: stream, broker: broker, store: store, now: time.Now}
}

type healthResponse struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Message: "healthy", Time: h.now().UTC()})
}

type readyResponse struct {
	Ready  bool                    `json:"ready"`
	Stream stream.Status           `json:"stream"`
	Broker *messaging.HealthStatus `json:"broker,omitempty"`
	Store  string                  `json:"store,omitempty"`
}

// Ready handles GET /readyz. The stream itself may be stopped; readiness
// only covers the dependencies the API needs to serve requests.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Stream: h.stream.Status()}

	if h.broker != nil {
		status := messaging.CheckClientHealth(h.broker)
		resp.Broker = &status
		if !status.Healthy() {
			resp.Ready = false
		}
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Store = err.Error()
			resp.Ready = false
		} else {
			resp.Store = "ok"
		}
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, resp)
}
