package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream stream metrics
	RecordsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_streamer_records_received_total",
			Help: "Total number of records parsed from the upstream stream",
		},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_streamer_parse_errors_total",
			Help: "Total number of upstream lines that failed to parse",
		},
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_streamer_connection_attempts_total",
			Help: "Total number of upstream connection attempts by result",
		},
		[]string{"result"},
	)

	Disconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_streamer_disconnects_total",
			Help: "Total number of times an established upstream stream ended",
		},
	)

	// ConnectionState is 1 for the manager's current state and 0 for the others.
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firehose_streamer_connection_state",
			Help: "Current upstream connection state",
		},
		[]string{"state"},
	)

	RuleUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_streamer_rule_updates_total",
			Help: "Total number of keyword rule replacements by result",
		},
		[]string{"result"},
	)

	// Forwarder metrics
	ForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_streamer_forwarded_total",
			Help: "Total number of records sent to the queue by result",
		},
		[]string{"result"},
	)

	ForwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firehose_streamer_forward_duration_seconds",
			Help:    "Duration of queue publishes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForwardQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firehose_streamer_forward_queue_depth",
			Help: "Records waiting to be published to the queue",
		},
	)

	ForwardQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firehose_streamer_forward_queue_capacity",
			Help: "Maximum capacity of the forward queue",
		},
	)

	// Monitor metrics
	MonitorClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firehose_streamer_monitor_clients",
			Help: "Connected monitor-stream clients",
		},
	)

	MonitorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_streamer_monitor_dropped_total",
			Help: "Records dropped because a monitor client was too slow",
		},
	)
)

// SetConnectionState marks state as the only active state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}
