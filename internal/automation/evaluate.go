package automation

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/nerrad567/railhub/internal/catalog"
	"github.com/nerrad567/railhub/internal/state"
)

// Aspect is the displayed state of a signal.
type Aspect string

// Signal aspects the engine can command.
const (
	AspectDanger Aspect = state.StatusDanger
	AspectClear  Aspect = state.StatusClear
)

// lampOn is the full-brightness colour channel value.
const lampOn = 255

// Command is one signal aspect to publish.
type Command struct {
	SignalTopic  string `json:"signal_topic"`
	CommandTopic string `json:"command_topic"`
	Aspect       Aspect `json:"aspect"`
}

type colorPayload struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type signalPayload struct {
	State string       `json:"state"`
	Color colorPayload `json:"color"`
}

// Payload returns the JSON bus payload for the command.
func (c Command) Payload() []byte {
	p := signalPayload{State: "ON", Color: colorPayload{R: lampOn}}
	if c.Aspect == AspectClear {
		p.Color = colorPayload{G: lampOn}
	}
	data, _ := json.Marshal(p) //nolint:errcheck // fixed struct always marshals
	return data
}

// Evaluate computes the aspect of every signal referenced by rules from the
// given snapshot. Dangers come first, then clears, each ordered by signal
// topic.
func Evaluate(snap state.Snapshot, rules []catalog.SignalAutomation) []Command {
	candidates := make(map[string][]Aspect)
	for _, rule := range rules {
		aspect, ok := evaluateRule(snap, rule)
		if !ok {
			continue
		}
		candidates[rule.SignalTopic] = append(candidates[rule.SignalTopic], aspect)
	}

	var dangers, clears []Command
	for signal, aspects := range candidates {
		cmd := Command{
			SignalTopic:  signal,
			CommandTopic: commandTopic(snap[signal], signal),
			Aspect:       aggregate(aspects),
		}
		if cmd.Aspect == AspectDanger {
			dangers = append(dangers, cmd)
		} else {
			clears = append(clears, cmd)
		}
	}

	byTopic := func(a, b Command) int { return strings.Compare(a.SignalTopic, b.SignalTopic) }
	slices.SortFunc(dangers, byTopic)
	slices.SortFunc(clears, byTopic)
	return append(dangers, clears...)
}

// evaluateRule returns the rule's candidate aspect, or false when a topic
// it references is not in the snapshot.
func evaluateRule(snap state.Snapshot, rule catalog.SignalAutomation) (Aspect, bool) {
	if _, ok := snap[rule.SignalTopic]; !ok {
		return "", false
	}
	detector, ok := snap.Status(rule.BlockDetectorTopic)
	if !ok {
		return "", false
	}
	blockClear := detector == state.StatusOff

	if !rule.Gated() {
		if blockClear {
			return AspectClear, true
		}
		return AspectDanger, true
	}

	points, ok := snap.Status(rule.PointsTopic)
	if !ok {
		return "", false
	}
	if points == rule.PointsState && blockClear {
		return AspectClear, true
	}
	return AspectDanger, true
}

// aggregate combines the candidates for one signal: any clear wins.
func aggregate(aspects []Aspect) Aspect {
	if slices.Contains(aspects, AspectClear) {
		return AspectClear
	}
	return AspectDanger
}

func commandTopic(rec state.Record, stateTopic string) string {
	if rec.Model.CommandTopic != "" {
		return rec.Model.CommandTopic
	}
	if base, ok := strings.CutSuffix(stateTopic, "/state"); ok {
		return base + "/set"
	}
	return stateTopic + "/set"
}
