package catalog

import (
	"cmp"
	"slices"

	"github.com/nerrad567/railhub/internal/state"
)

// Entity is a configured layout device.
type Entity struct {
	Kind         state.Kind `json:"kind" yaml:"kind"`
	Name         string     `json:"name" yaml:"name"`
	StateTopic   string     `json:"state_topic" yaml:"state_topic"`
	CommandTopic string     `json:"command_topic" yaml:"command_topic"`

	// Points only.
	ThroughState string `json:"through_state,omitempty" yaml:"through_state,omitempty"`
	DivergeState string `json:"diverge_state,omitempty" yaml:"diverge_state,omitempty"`
}

// Model returns the state-store model for the entity.
func (e Entity) Model() state.Model {
	return state.Model{
		Name:         e.Name,
		CommandTopic: e.CommandTopic,
		ThroughState: e.ThroughState,
		DivergeState: e.DivergeState,
	}
}

// SignalAutomation derives a signal's aspect from one block detector and,
// optionally, one set of points. Several rules may target the same signal.
type SignalAutomation struct {
	ID                 string `json:"id" yaml:"id"`
	SignalTopic        string `json:"signal_topic" yaml:"signal"`
	BlockDetectorTopic string `json:"block_detector_topic" yaml:"block_detector"`

	// PointsTopic is empty for rules without a points gate.
	PointsTopic string `json:"points_topic,omitempty" yaml:"points,omitempty"`

	// PointsState is the points status ("through" or "diverge") the gate
	// requires.
	PointsState string `json:"points_state,omitempty" yaml:"points_state,omitempty"`
}

// Gated reports whether the rule has a points gate.
func (a SignalAutomation) Gated() bool {
	return a.PointsTopic != ""
}

func sortEntities(entities []Entity) {
	slices.SortFunc(entities, func(a, b Entity) int {
		return cmp.Compare(a.StateTopic, b.StateTopic)
	})
}

func sortAutomations(rules []SignalAutomation) {
	slices.SortFunc(rules, func(a, b SignalAutomation) int {
		if c := cmp.Compare(a.SignalTopic, b.SignalTopic); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
