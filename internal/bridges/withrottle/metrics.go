package withrottle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the bridge. A nil *Metrics records
// nothing.
type Metrics struct {
	lines        *prometheus.CounterVec
	linesSent    prometheus.Counter
	malformed    prometheus.Counter
	sessions     prometheus.Counter
	sessionFails prometheus.Counter
	wireState    *prometheus.GaugeVec
	busMessages  *prometheus.CounterVec
	rosterSize   prometheus.Gauge
}

// NewMetrics creates and registers bridge metrics. It returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "lines_received_total",
			Help:      "Wire lines received by type",
		}, []string{"type"}),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "lines_sent_total",
			Help:      "Wire lines written",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "lines_malformed_total",
			Help:      "Wire lines that could not be decoded",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "sessions_total",
			Help:      "Sessions established with the server",
		}),
		sessionFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "session_failures_total",
			Help:      "Connection attempts or sessions that ended in a fault",
		}),
		wireState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "connection_state",
			Help:      "1 for the current wire connection state",
		}, []string{"state"}),
		busMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "bus_messages_total",
			Help:      "Bus messages published and received by direction",
		}, []string{"direction"}),
		rosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "railhub",
			Subsystem: "withrottle",
			Name:      "roster_size",
			Help:      "Trains known to the relay",
		}),
	}
	reg.MustRegister(m.lines, m.linesSent, m.malformed, m.sessions,
		m.sessionFails, m.wireState, m.busMessages, m.rosterSize)
	return m
}

func (m *Metrics) recordLine(kind string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordSent(n int) {
	if m == nil {
		return
	}
	m.linesSent.Add(float64(n))
}

func (m *Metrics) recordMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) recordSession() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) recordSessionFailure() {
	if m == nil {
		return
	}
	m.sessionFails.Inc()
}

func (m *Metrics) setState(current ConnState) {
	if m == nil {
		return
	}
	for _, s := range []ConnState{StateDisconnected, StateConnecting, StateActive, StateCancelled} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.wireState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) recordBus(direction string) {
	if m == nil {
		return
	}
	m.busMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) setRosterSize(n int) {
	if m == nil {
		return
	}
	m.rosterSize.Set(float64(n))
}
