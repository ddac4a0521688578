package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PickerRuns    *prometheus.CounterVec
	NextSignals   *prometheus.CounterVec
	Redirects     *prometheus.CounterVec
	Enabled       prometheus.Gauge
	BoundControls prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PickerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "picker_runs_total",
			Help:      "Picker runs by outcome.",
		}, []string{"outcome"}),
		NextSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "next_control_signals_total",
			Help:      "Next episode triggers by discovery channel.",
		}, []string{"source"}),
		Redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Redirect decisions by result.",
		}, []string{"result"}),
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 while shuffle is enabled.",
		}),
		BoundControls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bound_controls_total",
			Help:      "Next episode controls given a direct listener.",
		}),
	}
	reg.MustRegister(m.PickerRuns, m.NextSignals, m.Redirects, m.Enabled, m.BoundControls)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PickerOutcome(outcome string) {
	if m != nil {
		m.PickerRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) NextSignal(source string) {
	if m != nil {
		m.NextSignals.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Redirect(result string) {
	if m != nil {
		m.Redirects.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Bound(n int) {
	if m != nil && n > 0 {
		m.BoundControls.Add(float64(n))
	}
}

// SetEnabled mirrors the enabled flag; it doubles as the badge gauge.
func (m *Metrics) SetEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.Enabled.Set(1)
	} else {
		m.Enabled.Set(0)
	}
}
