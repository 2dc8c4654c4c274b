package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Processing metrics
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_processor_records_total",
			Help: "Total number of queue messages processed by outcome",
		},
		[]string{"outcome"},
	)

	OriginCountry = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_processor_origin_country_total",
			Help: "Total number of newly saved records by origin country",
		},
		[]string{"country"},
	)

	EnrichmentErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_processor_enrichment_errors_total",
			Help: "Total number of country lookups that failed",
		},
	)

	StoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firehose_processor_store_duration_seconds",
			Help:    "Conditional insert latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Geo lookup metrics
	GeoRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_processor_geo_requests_total",
			Help: "Total number of geo lookups by result",
		},
		[]string{"result"},
	)

	GeoDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firehose_processor_geo_duration_seconds",
			Help:    "Geo lookup latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	GeoBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firehose_processor_geo_breaker_state",
			Help: "Geo circuit breaker state (1 for the current state)",
		},
		[]string{"state"},
	)
)

// BreakerStates lists the label values of GeoBreakerState.
var BreakerStates = []string{"closed", "half-open", "open"}

// SetBreakerState marks state as current.
func SetBreakerState(state string) {
	for _, s := range BreakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		GeoBreakerState.WithLabelValues(s).Set(v)
	}
}
