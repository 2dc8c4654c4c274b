package mockstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/middleware"
)

// Config tunes the mock server.
type Config struct {
	// BasePath prefixes every route, for example "/mock".
	BasePath string
	// Interval between generated records on an open stream.
	Interval time.Duration
	// Token, when set, is required as a bearer credential.
	Token string
}

// Rule is an active stream filter.
type Rule struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Server implements the upstream stream, rules and geo endpoints.
type Server struct {
	gen    *Generator
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	rules []Rule
}

func NewServer(gen *Generator, cfg Config, logger *slog.Logger) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{gen: gen, cfg: cfg, logger: logger}
}

// Handler returns the routed mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	base := s.cfg.BasePath

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if s.cfg.Token != "" {
		auth := middleware.RequireBearer(func(context.Context) (string, error) { return s.cfg.Token, nil }, s.logger)
		protect = func(h http.HandlerFunc) http.Handler { return auth(h) }
	}

	mux.HandleFunc("GET "+base+"/health", s.health)
	mux.Handle("GET "+base+"/geo-api/country", protect(s.country))
	mux.Handle("POST "+base+"/2/tweets/search/stream/rules", protect(s.replaceRules))
	mux.Handle("GET "+base+"/2/tweets/search/stream", protect(s.stream))

	return middleware.RequestID(middleware.AccessLog(s.logger)(mux))
}

// Rules returns the current filter rules.
func (s *Server) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rule(nil), s.rules...)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "healthy",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) country(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	long, errLong := strconv.ParseFloat(r.URL.Query().Get("long"), 64)
	if errLat != nil || errLong != nil || lat < -90 || lat > 90 || long < -180 || long > 180 {
		httputil.WriteError(w, http.StatusBadRequest, "lat and long must be valid coordinates")
		return
	}

	city, km := Nearest(lat, long)
	s.logger.DebugContext(r.Context(), "resolved country",
		slog.String("country", city.Country),
		slog.Float64("distance_km", km),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"name": city.Country})
}

type rulesRequest struct {
	Add []struct {
		Value string `json:"value"`
	} `json:"add"`
}

func (s *Server) replaceRules(w http.ResponseWriter, r *http.Request) {
	var req rulesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}

	added := make([]Rule, 0, len(req.Add))
	for _, a := range req.Add {
		if a.Value == "" {
			continue
		}
		added = append(added, Rule{ID: uuid.NewString(), Value: a.Value})
	}

	s.mu.Lock()
	if r.URL.Query().Get("delete_all") == "true" {
		s.rules = nil
	}
	s.rules = append(s.rules, added...)
	s.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": added})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.InfoContext(r.Context(), "stream closed by client")
			return
		case <-ticker.C:
			data, err := json.Marshal(s.gen.Next())
			if err != nil {
				s.logger.ErrorContext(r.Context(), "failed to encode record", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
