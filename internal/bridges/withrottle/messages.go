package withrottle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/railhub/internal/state"
)

// Event is a wire→bus message produced by the Client.
type Event interface {
	event()
}

// ResetEvent starts a new session. The relay forgets its roster view and
// power state so everything is rebuilt from the fresh session.
type ResetEvent struct{}

// TrainDiscovered reports a roster entry.
type TrainDiscovered struct {
	Address string
	Name    string
}

// TrainUpdate carries partial live state for one address. Nil fields and
// absent functions are left unchanged.
type TrainUpdate struct {
	Address   string
	Active    *bool
	Speed     *int
	Direction *string
	Functions map[string]state.Function

	// ReplaceFunctions discards the known function map before applying
	// Functions. Set when the server sends a full label list.
	ReplaceFunctions bool
}

// PowerUpdate reports the track power state.
type PowerUpdate struct {
	State PowerState
}

func (ResetEvent) event()      {}
func (TrainDiscovered) event() {}
func (TrainUpdate) event()     {}
func (PowerUpdate) event()     {}

// Command is a bus→wire message consumed by the Client.
type Command interface {
	// Lines returns the wire lines that carry out the command, in order.
	Lines() []string
}

// SpeedCommand sets a throttle's speed step (0..126).
type SpeedCommand struct {
	Address string
	Speed   int
}

// DirectionCommand sets a throttle's direction.
type DirectionCommand struct {
	Address string
	Forward bool
}

// FunctionCommand toggles one decoder function.
type FunctionCommand struct {
	Address string
	Index   string
}

// PowerCommand switches track power.
type PowerCommand struct {
	On bool
}

// Lines implements Command.
func (c SpeedCommand) Lines() []string { return []string{speedLine(c.Address, c.Speed)} }

// Lines implements Command.
func (c DirectionCommand) Lines() []string { return []string{directionLine(c.Address, c.Forward)} }

// Lines implements Command.
func (c FunctionCommand) Lines() []string { return functionLines(c.Address, c.Index) }

// Lines implements Command.
func (c PowerCommand) Lines() []string { return []string{powerLine(c.On)} }

// maxSpeedStep is the highest 128-step speed value.
const maxSpeedStep = 126

// DecoderState is the JSON state payload published for a decoder.
type DecoderState struct {
	State     string                    `json:"state"`
	Functions map[string]state.Function `json:"functions"`
	Speed     int                       `json:"speed"`
	Direction string                    `json:"direction"`
}

// PowerPayload is the JSON state and command payload of the power switch.
type PowerPayload struct {
	State PowerState `json:"state"`
}

// DecoderSet is the JSON payload accepted on a decoder's command topic.
type DecoderSet struct {
	Speed     *int              `json:"speed,omitempty"`
	Direction *string           `json:"direction,omitempty"`
	Functions map[string]string `json:"functions,omitempty"`
}

// ParseDecoderSet decodes and validates a decoder command payload.
func ParseDecoderSet(payload []byte) (DecoderSet, error) {
	var set DecoderSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return DecoderSet{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if set.Direction != nil {
		switch *set.Direction {
		case state.DirectionForward, state.DirectionReverse:
		default:
			return DecoderSet{}, fmt.Errorf("%w: direction %q", ErrInvalidCommand, *set.Direction)
		}
	}
	for idx, st := range set.Functions {
		st = strings.ToLower(st)
		if st != state.StatusOn && st != state.StatusOff {
			return DecoderSet{}, fmt.Errorf("%w: function %s state %q", ErrInvalidCommand, idx, st)
		}
		set.Functions[idx] = st
	}
	return set, nil
}

// ParsePowerSet decodes a power command payload.
func ParsePowerSet(payload []byte) (PowerCommand, error) {
	var p PowerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return PowerCommand{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	switch PowerState(strings.ToUpper(string(p.State))) {
	case PowerOn:
		return PowerCommand{On: true}, nil
	case PowerOff:
		return PowerCommand{On: false}, nil
	}
	return PowerCommand{}, fmt.Errorf("%w: power state %q", ErrInvalidCommand, p.State)
}
