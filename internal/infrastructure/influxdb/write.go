package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement every layout state change is
// recorded under.
const MeasurementEntityState = "entity_state"

// EntityState is one observed state of a layout entity.
type EntityState struct {
	Topic     string
	Kind      string
	Name      string
	Status    string
	Speed     *int
	Direction string
	Time      time.Time
}

// NewEntityStatePoint builds the point for s. Topic, kind and name are
// tags; status, speed and direction are fields.
func NewEntityStatePoint(s EntityState) *write.Point {
	tags := map[string]string{
		"topic": s.Topic,
		"kind":  s.Kind,
	}
	if s.Name != "" {
		tags["name"] = s.Name
	}

	fields := map[string]any{
		"status": s.Status,
	}
	if s.Speed != nil {
		fields["speed"] = *s.Speed
	}
	if s.Direction != "" {
		fields["direction"] = s.Direction
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementEntityState, tags, fields, ts)
}

// WriteEntityState records a state change. The write is non-blocking;
// data is batched and sent asynchronously.
func (c *Client) WriteEntityState(s EntityState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewEntityStatePoint(s))
}
