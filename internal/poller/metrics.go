package poller

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Cycles        prometheus.Counter
	Received      prometheus.Counter
	Processed     *prometheus.CounterVec
	Deleted       prometheus.Counter
	DeleteErrors  prometheus.Counter
	ReceiveErrors prometheus.Counter
	Malformed     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles:        prometheus.NewCounter(prometheus.CounterOpts{Name: "poller_cycles_total", Help: "Receive cycles started."}),
		Received:      prometheus.NewCounter(prometheus.CounterOpts{Name: "poller_received_total", Help: "Messages received."}),
		Processed:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "poller_processed_total", Help: "Processed events."}, []string{"detail_type", "status"}),
		Deleted:       prometheus.NewCounter(prometheus.CounterOpts{Name: "poller_deleted_total", Help: "Messages acknowledged."}),
		DeleteErrors:  prometheus.NewCounter(prometheus.CounterOpts{Name: "poller_delete_errors_total", Help: "Failed delete calls."}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "poller_receive_errors_total", Help: "Failed receive calls."}),
		Malformed:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "poller_malformed_total", Help: "Messages rejected by decoding."}, []string{"stage"}),
	}
	reg.MustRegister(m.Cycles, m.Received, m.Processed, m.Deleted, m.DeleteErrors, m.ReceiveErrors, m.Malformed)
	return m
}

func (m *Metrics) cycle() {
	if m != nil {
		m.Cycles.Inc()
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.Received.Add(float64(n))
	}
}

func (m *Metrics) processed(detailType, status string) {
	if m != nil {
		m.Processed.WithLabelValues(detailType, status).Inc()
	}
}

func (m *Metrics) deleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}

func (m *Metrics) deleteError() {
	if m != nil {
		m.DeleteErrors.Inc()
	}
}

func (m *Metrics) receiveError() {
	if m != nil {
		m.ReceiveErrors.Inc()
	}
}

func (m *Metrics) malformed(stage Stage) {
	if m != nil {
		m.Malformed.WithLabelValues(string(stage)).Inc()
	}
}
