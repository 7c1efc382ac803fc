package publish

import (
	"time"

	"github.com/k1networth/cdc-relay/internal/router"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	PublishedTotal  *prometheus.CounterVec
	FailedTotal     *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "relay_published_entries_total", Help: "Bus entries accepted by the bus."},
			[]string{"bus"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "relay_failed_entries_total", Help: "Bus entries rejected by the bus."},
			[]string{"bus", "error_code"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_publish_duration_seconds",
				Help:    "Latency of one batch publish call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"bus"},
		),
	}
	reg.MustRegister(m.PublishedTotal, m.FailedTotal, m.PublishDuration)
	return m
}

func (m *Metrics) observe(bus string, d time.Duration) {
	if m == nil {
		return
	}
	m.PublishDuration.WithLabelValues(bus).Observe(d.Seconds())
}

func (m *Metrics) published(entries []router.Entry) {
	if m == nil {
		return
	}
	for _, e := range entries {
		m.PublishedTotal.WithLabelValues(e.EventBusName).Inc()
	}
}

func (m *Metrics) failed(entries []FailedEntry) {
	if m == nil {
		return
	}
	for _, f := range entries {
		m.FailedTotal.WithLabelValues(f.Entry.EventBusName, f.ErrorCode).Inc()
	}
}
