package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/middleware"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the geo circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// Deps are the dependencies reported by /readyz. Any may be nil.
type Deps struct {
	Broker messaging.Client
	Store  Pinger
	Geo    BreakerReporter
}

type readyResponse struct {
	Ready  bool                    `json:"ready"`
	Broker *messaging.HealthStatus `json:"broker,omitempty"`
	Store  string                  `json:"store,omitempty"`
	Geo    string                  `json:"geo_breaker,omitempty"`
}

// NewRouter serves health and metrics for the processor.
func NewRouter(deps Deps, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"message": "healthy",
			"time":    time.Now().UTC(),
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		resp := readyResponse{Ready: true}
		if deps.Broker != nil {
			status := messaging.CheckClientHealth(deps.Broker)
			resp.Broker = &status
			resp.Ready = resp.Ready && status.Healthy()
		}
		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				resp.Store = err.Error()
				resp.Ready = false
			} else {
				resp.Store = "ok"
			}
		}
		// An open breaker degrades enrichment but does not stop processing.
		if deps.Geo != nil {
			resp.Geo = deps.Geo.BreakerState()
		}

		code := http.StatusOK
		if !resp.Ready {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger.Logger)(mux))
}
