package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/railhub/internal/state"
)

// Control message types accepted on the state socket.
const (
	ControlSetPoints      = "set-points"
	ControlSetPowerSwitch = "set-power_switch"
	ControlSetReverser    = "set-reverser"
	ControlSetSpeed       = "set-speed"
	ControlToggleFunction = "toggle-decoder-function"
)

// maxSpeedStep is the highest 128-step decoder speed.
const maxSpeedStep = 126

// ControlPayload is the payload of a control message. Which fields are
// read depends on the message type.
type ControlPayload struct {
	Topic     string `json:"topic"`
	State     string `json:"state,omitempty"`
	Direction string `json:"direction,omitempty"`
	Speed     *int   `json:"speed,omitempty"`
	Function  string `json:"function,omitempty"`
}

// Control is a bus command derived from a control message.
type Control struct {
	Topic   string
	Payload []byte
}

// buildControl translates a control message into a bus command for the
// record at p.Topic. Commands go to the record's command topic, or the
// conventional /set sibling of its state topic when none is modelled.
func buildControl(msgType string, p ControlPayload, rec state.Record) (Control, error) {
	var body any
	switch msgType {
	case ControlSetPoints:
		if err := requireKind(rec, state.KindPoints); err != nil {
			return Control{}, err
		}
		var target string
		switch p.State {
		case state.StatusThrough:
			target = rec.Model.ThroughState
		case state.StatusDiverge:
			target = rec.Model.DivergeState
		default:
			return Control{}, fmt.Errorf("%w: points state %q", ErrInvalidControl, p.State)
		}
		if target == "" {
			return Control{}, fmt.Errorf("%w: points have no %s state", ErrInvalidControl, p.State)
		}
		body = map[string]string{"state": target}

	case ControlSetPowerSwitch:
		if err := requireKind(rec, state.KindPowerSwitch, state.KindPower); err != nil {
			return Control{}, err
		}
		st := strings.ToLower(p.State)
		if st != state.StatusOn && st != state.StatusOff {
			return Control{}, fmt.Errorf("%w: power state %q", ErrInvalidControl, p.State)
		}
		body = map[string]string{"state": strings.ToUpper(st)}

	case ControlSetReverser:
		if err := requireKind(rec, state.KindTrain, state.KindDecoder); err != nil {
			return Control{}, err
		}
		if p.Direction != state.DirectionForward && p.Direction != state.DirectionReverse {
			return Control{}, fmt.Errorf("%w: direction %q", ErrInvalidControl, p.Direction)
		}
		body = map[string]string{"direction": p.Direction}

	case ControlSetSpeed:
		if err := requireKind(rec, state.KindTrain, state.KindDecoder); err != nil {
			return Control{}, err
		}
		if p.Speed == nil || *p.Speed < 0 {
			return Control{}, fmt.Errorf("%w: speed is required and must not be negative", ErrInvalidControl)
		}
		body = map[string]int{"speed": min(*p.Speed, maxSpeedStep)}

	case ControlToggleFunction:
		if err := requireKind(rec, state.KindTrain, state.KindDecoder); err != nil {
			return Control{}, err
		}
		fn, ok := rec.Live.Functions[p.Function]
		if !ok {
			return Control{}, fmt.Errorf("%w: unknown function %q", ErrInvalidControl, p.Function)
		}
		next := state.StatusOn
		if fn.State == state.StatusOn {
			next = state.StatusOff
		}
		body = map[string]map[string]string{"functions": {p.Function: next}}

	default:
		return Control{}, fmt.Errorf("%w: unknown type %q", ErrInvalidControl, msgType)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Control{}, fmt.Errorf("%w: %w", ErrInvalidControl, err)
	}
	topic := rec.Model.CommandTopic
	if topic == "" {
		topic = mqtt.CommandForState(p.Topic)
	}
	return Control{Topic: topic, Payload: payload}, nil
}

func requireKind(rec state.Record, kinds ...state.Kind) error {
	for _, k := range kinds {
		if rec.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongKind, rec.Kind)
}

// executeControl looks up the target record and publishes the command.
func (s *Server) executeControl(msgType string, raw json.RawMessage) (Control, error) {
	var p ControlPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Control{}, fmt.Errorf("%w: %w", ErrInvalidControl, err)
	}
	if p.Topic == "" {
		return Control{}, fmt.Errorf("%w: topic is required", ErrInvalidControl)
	}
	rec, ok := s.store.Get(p.Topic)
	if !ok {
		return Control{}, fmt.Errorf("%w: %s", ErrUnknownTopic, p.Topic)
	}

	ctl, err := buildControl(msgType, p, rec)
	if err != nil {
		return Control{}, err
	}
	if s.publisher == nil {
		return Control{}, ErrNoPublisher
	}
	if err := s.publisher.Publish(ctl.Topic, ctl.Payload, s.qos, false); err != nil {
		return Control{}, fmt.Errorf("%w: %s: %w", ErrPublishFailed, ctl.Topic, err)
	}
	s.logger.Debug("control command published",
		"type", msgType,
		"topic", p.Topic,
		"command_topic", ctl.Topic)
	return ctl, nil
}
