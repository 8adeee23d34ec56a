package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

type promMetrics struct {
	appendsTotal    *prometheus.CounterVec
	appendDuration  *prometheus.HistogramVec
	resolutionTotal *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) Metrics {
	m := &promMetrics{
		appendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_events_appends_total",
			Help: "Total number of event append attempts",
		}, []string{"aggregate_type", "result"}),

		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "account_events_append_duration_seconds",
			Help:    "Event append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		resolutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_events_resolutions_total",
			Help: "Total number of aggregate resolutions by status",
		}, []string{"aggregate_type", "status"}),

		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_events_append_retries_total",
			Help: "Total number of appends retried after a version conflict",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.appendsTotal,
		m.appendDuration,
		m.resolutionTotal,
		m.retriesTotal,
	)
	return m
}

func (m *promMetrics) EventAppended(aggregateType, result string, took time.Duration) {
	m.appendsTotal.WithLabelValues(aggregateType, result).Inc()
	m.appendDuration.WithLabelValues(aggregateType).Observe(took.Seconds())
}

func (m *promMetrics) AggregateResolved(aggregateType, status string) {
	m.resolutionTotal.WithLabelValues(aggregateType, status).Inc()
}

func (m *promMetrics) AppendRetried(aggregateType string) {
	m.retriesTotal.WithLabelValues(aggregateType).Inc()
}
