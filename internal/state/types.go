package state

import (
	"encoding/json"
	"maps"
)

// Kind identifies the class of device a Record describes. Decoding rules
// in UpdateState are selected by Kind.
type Kind string

// Device kinds.
const (
	KindPoints        Kind = "points"
	KindBlockDetector Kind = "block_detector"
	KindSignal        Kind = "signal"
	KindPowerSwitch   Kind = "power_switch"
	KindTrain         Kind = "train"
	KindDecoder       Kind = "decoder"
	KindPower         Kind = "power"
)

// AllKinds returns every known kind.
func AllKinds() []Kind {
	return []Kind{
		KindPoints, KindBlockDetector, KindSignal, KindPowerSwitch,
		KindTrain, KindDecoder, KindPower,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Live status values.
const (
	StatusUnknown = "unknown"
	StatusOn      = "on"
	StatusOff     = "off"
	StatusThrough = "through"
	StatusDiverge = "diverge"
	StatusDanger  = "danger"
	StatusClear   = "clear"
)

// Train directions.
const (
	DirectionForward = "forward"
	DirectionReverse = "reverse"
)

// Model is the configuration half of a Record.
type Model struct {
	Name         string `json:"name,omitempty"`
	CommandTopic string `json:"command_topic,omitempty"`

	// Raw payload values reported by points in each position.
	ThroughState string `json:"through_state,omitempty"`
	DivergeState string `json:"diverge_state,omitempty"`
}

// Function is one decoder function slot.
type Function struct {
	Label string `json:"label,omitempty"`
	State string `json:"state"`
}

// UnmarshalJSON accepts either the full object form or a bare "on"/"off"
// string, which is how control surfaces address a single function.
func (f *Function) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Function{State: s}
		return nil
	}
	type plain Function
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = Function(p)
	return nil
}

// Live is the runtime half of a Record. Fields that do not apply to a
// kind stay at their zero value.
type Live struct {
	Status    string              `json:"state"`
	Speed     *int                `json:"speed,omitempty"`
	Direction string              `json:"direction,omitempty"`
	Functions map[string]Function `json:"functions,omitempty"`
}

// Record is the stored entry for one topic.
type Record struct {
	Kind  Kind  `json:"type"`
	Model Model `json:"model"`
	Live  Live  `json:"live"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Live.Speed != nil {
		speed := *r.Live.Speed
		out.Live.Speed = &speed
	}
	if r.Live.Functions != nil {
		out.Live.Functions = maps.Clone(r.Live.Functions)
	}
	return out
}

// Snapshot is a point-in-time copy of the whole store keyed by topic.
type Snapshot map[string]Record

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for topic, rec := range s {
		out[topic] = rec.Clone()
	}
	return out
}

// Status returns the live status of topic and whether the topic exists.
func (s Snapshot) Status(topic string) (string, bool) {
	rec, ok := s[topic]
	if !ok {
		return "", false
	}
	return rec.Live.Status, true
}

// NewRecord returns a record of the given kind with an unknown status.
// Train and decoder records start stopped, facing forward, switched off.
func NewRecord(kind Kind, model Model) Record {
	rec := Record{Kind: kind, Model: model, Live: Live{Status: StatusUnknown}}
	if kind == KindTrain || kind == KindDecoder {
		speed := 0
		rec.Live = Live{
			Status:    StatusOff,
			Speed:     &speed,
			Direction: DirectionForward,
			Functions: map[string]Function{},
		}
	}
	return rec
}
