package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Colour channel threshold above which a signal lamp counts as lit.
const colorThreshold = 128

// Color is an RGB lamp colour reported by a signal.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Update is a decoded state payload. Nil fields were absent from the
// payload and leave the corresponding live field untouched.
type Update struct {
	State     *string             `json:"state,omitempty"`
	Color     *Color              `json:"color,omitempty"`
	Functions map[string]Function `json:"functions,omitempty"`
	Speed     *int                `json:"speed,omitempty"`
	Direction *string             `json:"direction,omitempty"`
}

// ParseUpdate decodes a JSON state payload.
func ParseUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return u, nil
}

// apply decodes u into rec.Live according to rec.Kind.
// rec is left unchanged when an error is returned.
func apply(rec *Record, u Update) error {
	switch rec.Kind {
	case KindPoints:
		rec.Live.Status = decodePoints(rec.Model, u)
		return nil

	case KindPowerSwitch, KindPower:
		status, err := decodeEnum(u, "ON", "OFF", "UNKNOWN")
		if err != nil {
			return err
		}
		rec.Live.Status = status
		return nil

	case KindBlockDetector:
		status, err := decodeEnum(u, "ON", "OFF")
		if err != nil {
			return err
		}
		rec.Live.Status = status
		return nil

	case KindSignal:
		status, err := decodeSignal(rec.Live.Status, u)
		if err != nil {
			return err
		}
		rec.Live.Status = status
		return nil

	case KindTrain, KindDecoder:
		mergeTrain(&rec.Live, u)
		return nil
	}
	return fmt.Errorf("%w: unsupported kind %q", ErrInvalidState, rec.Kind)
}

func decodePoints(m Model, u Update) string {
	if u.State == nil {
		return StatusUnknown
	}
	switch *u.State {
	case m.ThroughState:
		return StatusThrough
	case m.DivergeState:
		return StatusDiverge
	}
	return StatusUnknown
}

func decodeEnum(u Update, accepted ...string) (string, error) {
	if u.State == nil {
		return "", fmt.Errorf("%w: missing state", ErrInvalidState)
	}
	raw := strings.ToUpper(*u.State)
	for _, a := range accepted {
		if raw == a {
			return strings.ToLower(raw), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, *u.State)
}

func decodeSignal(current string, u Update) (string, error) {
	if u.State == nil {
		return "", fmt.Errorf("%w: missing state", ErrInvalidState)
	}
	switch strings.ToUpper(*u.State) {
	case "OFF":
		return StatusOff, nil
	case "ON":
		if u.Color == nil {
			return current, nil
		}
		if u.Color.R > colorThreshold {
			return StatusDanger, nil
		}
		if u.Color.G > colorThreshold {
			return StatusClear, nil
		}
		return current, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, *u.State)
}

func mergeTrain(live *Live, u Update) {
	if u.State != nil {
		if strings.ToUpper(*u.State) == "ON" {
			live.Status = StatusOn
		} else {
			live.Status = StatusOff
		}
	}
	if u.Functions != nil {
		if live.Functions == nil {
			live.Functions = make(map[string]Function, len(u.Functions))
		}
		for idx, fn := range u.Functions {
			if fn.Label == "" {
				fn.Label = live.Functions[idx].Label
			}
			live.Functions[idx] = fn
		}
	}
	if u.Speed != nil {
		speed := *u.Speed
		live.Speed = &speed
	}
	if u.Direction != nil {
		live.Direction = *u.Direction
	}
}
