package hub

import (
	"time"

	"github.com/nerrad567/railhub/internal/infrastructure/influxdb"
	"github.com/nerrad567/railhub/internal/state"
)

// StateWriter records entity states. influxdb.Client satisfies it.
type StateWriter interface {
	WriteEntityState(s influxdb.EntityState)
}

// Telemetry is a store listener that records every single-topic change.
// Full replays are skipped; they carry no new information.
type Telemetry struct {
	writer  StateWriter
	metrics *Metrics
	now     func() time.Time
}

// Compile-time check that Telemetry is a store listener.
var _ state.Listener = (*Telemetry)(nil)

// NewTelemetry creates a telemetry listener. metrics may be nil.
func NewTelemetry(writer StateWriter, metrics *Metrics) *Telemetry {
	return &Telemetry{writer: writer, metrics: metrics, now: time.Now}
}

// StateChanged implements state.Listener.
func (t *Telemetry) StateChanged(snap state.Snapshot, topic string) {
	if topic == "" {
		return
	}
	rec, ok := snap[topic]
	if !ok {
		return
	}

	t.writer.WriteEntityState(influxdb.EntityState{
		Topic:     topic,
		Kind:      string(rec.Kind),
		Name:      rec.Model.Name,
		Status:    rec.Live.Status,
		Speed:     rec.Live.Speed,
		Direction: rec.Live.Direction,
		Time:      t.now(),
	})
	t.metrics.recordTelemetryWrite()
}

// Metrics returns the hub's metrics so a Telemetry listener can share them.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}
