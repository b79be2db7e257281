package mqtt

import (
	"encoding/json"
	"fmt"
)

// DeviceInfo describes the physical or logical device an entity belongs to.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// EntityConfig is the discovery payload published retained on
// <namespace>/<class>/<id>/config.
type EntityConfig struct {
	UniqueID     string     `json:"unique_id"`
	Name         string     `json:"name"`
	DeviceClass  string     `json:"device_class"`
	StateTopic   string     `json:"state_topic"`
	CommandTopic string     `json:"command_topic"`
	Device       DeviceInfo `json:"device"`
}

// Validate checks that every required field is present.
func (c EntityConfig) Validate() error {
	switch {
	case c.UniqueID == "":
		return fmt.Errorf("%w: unique_id is required", ErrInvalidEntityConfig)
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidEntityConfig)
	case c.DeviceClass == "":
		return fmt.Errorf("%w: device_class is required", ErrInvalidEntityConfig)
	case c.StateTopic == "":
		return fmt.Errorf("%w: state_topic is required", ErrInvalidEntityConfig)
	case c.CommandTopic == "":
		return fmt.Errorf("%w: command_topic is required", ErrInvalidEntityConfig)
	case len(c.Device.Identifiers) == 0:
		return fmt.Errorf("%w: device.identifiers must not be empty", ErrInvalidEntityConfig)
	case c.Device.Name == "":
		return fmt.Errorf("%w: device.name is required", ErrInvalidEntityConfig)
	}
	return nil
}

// ParseEntityConfig decodes and validates a config payload.
func ParseEntityConfig(payload []byte) (EntityConfig, error) {
	var cfg EntityConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return EntityConfig{}, fmt.Errorf("%w: %w", ErrInvalidEntityConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return EntityConfig{}, err
	}
	return cfg, nil
}
