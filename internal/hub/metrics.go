package hub

import "github.com/prometheus/client_golang/prometheus"

// Rejection reasons.
const (
	reasonInvalidConfig  = "invalid_config"
	reasonInvalidPayload = "invalid_payload"
	reasonUnknownTopic   = "unknown_topic"
	reasonInvalidState   = "invalid_state"
)

// Metrics holds Prometheus metrics for the hub. A nil *Metrics records nothing.
type Metrics struct {
	messages        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	recalculations  prometheus.Counter
	records         prometheus.Gauge
	telemetryWrites prometheus.Counter
}

// NewMetrics creates and registers hub metrics. It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Bus messages received by topic leaf",
		}, []string{"leaf"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "hub",
			Name:      "messages_rejected_total",
			Help:      "Bus messages dropped by reason",
		}, []string{"reason"}),
		recalculations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "hub",
			Name:      "recalculations_total",
			Help:      "Record set rebuilds",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "railhub",
			Subsystem: "hub",
			Name:      "records",
			Help:      "Records held by the state store",
		}),
		telemetryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "hub",
			Name:      "telemetry_writes_total",
			Help:      "State changes handed to the telemetry writer",
		}),
	}
	reg.MustRegister(m.messages, m.rejected, m.recalculations, m.records, m.telemetryWrites)
	return m
}

func (m *Metrics) recordMessage(leaf string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(leaf).Inc()
}

func (m *Metrics) recordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordRecalculation(records int) {
	if m == nil {
		return
	}
	m.recalculations.Inc()
	m.records.Set(float64(records))
}

func (m *Metrics) recordTelemetryWrite() {
	if m == nil {
		return
	}
	m.telemetryWrites.Inc()
}
