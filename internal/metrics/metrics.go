package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts demand activity across all sessions of a process.
// The zero value and a nil *Metrics are both usable and record nothing.
type Metrics struct {
	actions  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	reports  *prometheus.CounterVec
	sessions prometheus.Gauge
}

// New registers the collectors with registry. A nil registry yields a
// no-op Metrics.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if registry == nil {
		return m
	}
	factory := promauto.With(registry)
	m.actions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "demandline_actions_total",
		Help: "Demand lifecycle actions applied, by action",
	}, []string{"action"})
	m.rejected = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "demandline_rejected_operations_total",
		Help: "Operations rejected, by operation and reason",
	}, []string{"operation", "reason"})
	m.reports = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "demandline_reports_generated_total",
		Help: "Reports generated, by format and detail",
	}, []string{"format", "detail"})
	m.sessions = factory.NewGauge(prometheus.GaugeOpts{
		Name: "demandline_open_sessions",
		Help: "Sessions currently open",
	})
	return m
}

func (m *Metrics) Action(action string) {
	if m == nil || m.actions == nil {
		return
	}
	m.actions.WithLabelValues(action).Inc()
}

func (m *Metrics) Rejected(operation, reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) Report(format, detail string) {
	if m == nil || m.reports == nil {
		return
	}
	m.reports.WithLabelValues(format, detail).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Dec()
}
