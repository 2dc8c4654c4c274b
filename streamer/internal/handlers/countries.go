package handlers

import (
	"context"
	"net/http"

	"github.com/vertical-labs/firehose/common/countrystats"
	"github.com/vertical-labs/firehose/common/httputil"
	"github.com/vertical-labs/firehose/common/logging"
)

// CountryStatsReader reads the processor's origin-country tallies.
type CountryStatsReader interface {
	Get(ctx context.Context) (*countrystats.Stats, error)
}

type CountriesHandler struct {
	stats  CountryStatsReader
	logger *logging.Logger
}

func NewCountriesHandler(stats CountryStatsReader, logger *logging.Logger) *CountriesHandler {
	return &CountriesHandler{stats: stats, logger: logger}
}

// Stats handles GET /country-stats.
func (h *CountriesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read country stats", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get country stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
