package exd

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports driver progress. A nil *Metrics is valid and records nothing.
type Metrics struct {
	evaluations *prometheus.CounterVec
	currentMax  prometheus.Gauge
	inFlight    prometheus.Gauge
}

// NewMetrics registers the driver collectors on reg. A nil reg disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackboxopt",
			Name:      "evaluations_total",
			Help:      "Completed function evaluations processed by the driver.",
		}, []string{"target_fidelity"}),
		currentMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blackboxopt",
			Name:      "current_max",
			Help:      "Best observed value at the target fidelity.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blackboxopt",
			Name:      "evaluations_in_flight",
			Help:      "Evaluations dispatched to workers and not yet processed.",
		}),
	}
	for _, c := range []prometheus.Collector{m.evaluations, m.currentMax, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(atTarget bool) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(strconv.FormatBool(atTarget)).Inc()
}

func (m *Metrics) setMax(v float64) {
	if m == nil {
		return
	}
	m.currentMax.Set(v)
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
