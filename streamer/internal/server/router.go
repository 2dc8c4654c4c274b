package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/middleware"
	"github.com/vertical-labs/firehose/streamer/internal/handlers"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Admin   *handlers.AdminHandler
	Monitor *handlers.MonitorHandler
	Records *handlers.RecordsHandler
	Health  *handlers.HealthHandler
	// Countries is optional; /country-stats is mounted only when set.
	Countries *handlers.CountriesHandler
}

// Options configures cross-cutting router behaviour.
type Options struct {
	// AdminToken yields the shared secret guarding /admin routes.
	AdminToken middleware.TokenFunc
	// BasePath, when set, prefixes every route (for example "/api").
	BasePath string
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	Logger      *logging.Logger
}

// NewRouter constructs the streamer API.
func NewRouter(h Handlers, opts Options) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.RequireBearer(opts.AdminToken, opts.Logger.Logger)

	// Admin endpoints
	mux.Handle("PUT /admin/set-keywords", admin(http.HandlerFunc(h.Admin.SetKeywords)))
	mux.Handle("POST /admin/enable-monitoring", admin(http.HandlerFunc(h.Admin.EnableMonitoring)))
	mux.Handle("POST /admin/disable-monitoring", admin(http.HandlerFunc(h.Admin.DisableMonitoring)))
	mux.Handle("GET /admin/stream-status", admin(http.HandlerFunc(h.Admin.StreamStatus)))

	// Public endpoints
	mux.Handle("GET /monitor-stream", h.Monitor)
	mux.HandleFunc("GET /processed-tweets", h.Records.List)
	if h.Countries != nil {
		mux.HandleFunc("GET /country-stats", h.Countries.Stats)
	}

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health.Health)
	mux.HandleFunc("GET /readyz", h.Health.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if base := strings.TrimRight(opts.BasePath, "/"); base != "" {
		outer := http.NewServeMux()
		outer.Handle(base+"/", http.StripPrefix(base, mux))
		handler = outer
	}

	handler = middleware.AccessLog(opts.Logger.Logger)(handler)
	if len(opts.CORSOrigins) > 0 {
		handler = middleware.CORS(middleware.DefaultCORSConfig(opts.CORSOrigins))(handler)
	}
	return middleware.RequestID(handler)
}
