package automation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the engine. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	evaluations   prometheus.Counter
	published     *prometheus.CounterVec
	publishErrors prometheus.Counter
}

// NewMetrics creates and registers engine metrics. It returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "automation",
			Name:      "evaluations_total",
			Help:      "Total number of signal rule evaluation passes",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "automation",
			Name:      "commands_published_total",
			Help:      "Total number of signal commands published by aspect",
		}, []string{"aspect"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "automation",
			Name:      "publish_errors_total",
			Help:      "Total number of signal commands that failed to publish",
		}),
	}
	reg.MustRegister(m.evaluations, m.published, m.publishErrors)
	return m
}

func (m *Metrics) recordEvaluation() {
	if m == nil {
		return
	}
	m.evaluations.Inc()
}

func (m *Metrics) recordPublished(aspect Aspect) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(string(aspect)).Inc()
}

func (m *Metrics) recordPublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
