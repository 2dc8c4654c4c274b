package handlers

import (
	"context"
	"net/http"

	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/models"
)

// RecordLister reads every processed record.
type RecordLister interface {
	Scan(ctx context.Context) ([]*models.ProcessedRecord, error)
}

type RecordsHandler struct {
	store  RecordLister
	logger *logging.Logger
}

func NewRecordsHandler(store RecordLister, logger *logging.Logger) *RecordsHandler {
	return &RecordsHandler{store: store, logger: logger}
}

type listRecordsResponse struct {
	Items []*models.ProcessedRecord `json:"items"`
}

// List handles GET /processed-tweets.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.Scan(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to scan processed records", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get processed")
		return
	}
	if items == nil {
		items = []*models.ProcessedRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, listRecordsResponse{Items: items})
}
