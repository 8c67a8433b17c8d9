package pairing

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "adbpair"

// metrics holds the coordinator's Prometheus collectors.
type metrics struct {
	attempts *prometheus.CounterVec
	duration prometheus.Histogram
	inflight prometheus.Gauge
}

// newMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered by an earlier
// coordinator are reused.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attempts_total",
			Help:      "Pairing requests by terminal status and reason.",
		}, []string{"status", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of pairing attempts that ran.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_attempts",
			Help:      "Pairing attempts currently running.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.inflight, err = register(reg, m.inflight); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(out Outcome) {
	reason := ""
	if out.Status != StatusSucceeded {
		reason = out.Reason.String()
	}
	m.attempts.WithLabelValues(out.Status.String(), reason).Inc()
	if out.Status != StatusRejected {
		m.duration.Observe(out.Duration.Seconds())
	}
}
