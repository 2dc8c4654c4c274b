package handlers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/models"
	"github.com/vertical-labs/firehose/streamer/internal/eventbus"
	"github.com/vertical-labs/firehose/streamer/internal/metrics"
)

// Bus is the event bus as seen by monitor clients.
type Bus interface {
	Subscribe(name string, fn eventbus.Callback) eventbus.Handle
	Unsubscribe(h eventbus.Handle)
}

// MonitorHandler streams live records to HTTP clients as server-sent events.
type MonitorHandler struct {
	bus       Bus
	logger    *logging.Logger
	buffer    int
	heartbeat time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewMonitorHandler creates a handler. Each client gets its own buffer of
// the given size; records that do not fit are dropped for that client only.
func NewMonitorHandler(bus Bus, logger *logging.Logger, buffer int, heartbeat time.Duration) *MonitorHandler {
	if buffer <= 0 {
		buffer = 256
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &MonitorHandler{
		bus:       bus,
		logger:    logger,
		buffer:    buffer,
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
}

// Close ends every open monitor stream. Safe to call more than once.
func (h *MonitorHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeHTTP handles GET /monitor-stream.
func (h *MonitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, "data: connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	clientID := uuid.NewString()
	records := make(chan models.StreamItem, h.buffer)
	handle := h.bus.Subscribe("monitor:"+clientID, func(item models.StreamItem) {
		select {
		case records <- item:
		default:
			metrics.MonitorDropped.Inc()
		}
	})
	metrics.MonitorClients.Inc()
	h.logger.InfoContext(r.Context(), "monitor client connected", logging.ClientID(clientID))

	defer func() {
		h.bus.Unsubscribe(handle)
		metrics.MonitorClients.Dec()
		h.logger.InfoContext(r.Context(), "monitor client disconnected", logging.ClientID(clientID))
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case item := <-records:
			data, err := item.Marshal()
			if err != nil {
				h.logger.WarnContext(r.Context(), "failed to encode record for monitor",
					logging.RecordID(item.Data.ID), logging.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
