// Package handlers implements the streamer's admin and monitor HTTP API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/streamer/internal/stream"
)

// StreamController is the connection manager as seen by the admin API.
type StreamController interface {
	Start() bool
	Stop()
	Status() stream.Status
	SetStreamKeywords(ctx context.Context, keywords string) error
}

const (
	msgKeywordsUpdated    = "keywords updated"
	msgEnablingMonitoring = "Enabling monitoring. Check stream status for details"
	msgDisablingMonitor   = "Disabling monitoring. Check stream status for details"
	errSetKeywords        = "failed to set keywords"
)

type AdminHandler struct {
	stream StreamController
	logger *logging.Logger
}

func NewAdminHandler(stream StreamController, logger *logging.Logger) *AdminHandler {
	return &AdminHandler{stream: stream, logger: logger}
}

type setKeywordsRequest struct {
	Keywords string `json:"keywords"`
}

// SetKeywords handles PUT /admin/set-keywords.
func (h *AdminHandler) SetKeywords(w http.ResponseWriter, r *http.Request) {
	var req setKeywordsRequest
	if err := httputil.DecodeJSON(r, &req, "keywords"); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}

	if err := h.stream.SetStreamKeywords(r.Context(), req.Keywords); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to set stream keywords",
			logging.Keywords(req.Keywords), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, errSetKeywords)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, msgKeywordsUpdated)
}

// EnableMonitoring handles POST /admin/enable-monitoring. The response does
// not wait for the connection; clients poll stream-status.
func (h *AdminHandler) EnableMonitoring(w http.ResponseWriter, r *http.Request) {
	started := h.stream.Start()
	h.logger.InfoContext(r.Context(), "enable monitoring requested", slog.Bool("started", started))
	httputil.WriteMessage(w, http.StatusOK, msgEnablingMonitoring)
}

// DisableMonitoring handles POST /admin/disable-monitoring.
func (h *AdminHandler) DisableMonitoring(w http.ResponseWriter, r *http.Request) {
	h.stream.Stop()
	h.logger.InfoContext(r.Context(), "disable monitoring requested")
	httputil.WriteMessage(w, http.StatusOK, msgDisablingMonitor)
}

// StreamStatus handles GET /admin/stream-status.
func (h *AdminHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.stream.Status())
}
