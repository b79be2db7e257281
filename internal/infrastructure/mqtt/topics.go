package mqtt

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the first topic level used when none is configured.
const DefaultNamespace = "railhub"

// Topic leaves of the entity scheme <namespace>/<class>/<id>/<leaf>.
const (
	LeafConfig  = "config"
	LeafState   = "state"
	LeafCommand = "set"
)

// Status payloads on the namespace status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics provides builders for railhub MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Entity topics use the scheme <namespace>/<class>/<id>/<leaf>:
//
//	topics := mqtt.Topics{Namespace: "railhub"}
//	stateTopic := topics.EntityState("points", "p1")
//	// Returns: "railhub/points/p1/state"
type Topics struct {
	Namespace string
}

func (t Topics) ns() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return t.Namespace
}

// Status returns the hub availability topic. Devices and bridges republish
// their config and state when "online" arrives here.
//
// Example: railhub/status
func (t Topics) Status() string {
	return t.ns() + "/status"
}

// Entity returns an entity topic for the given leaf.
//
// Example: railhub/decoder/jmri-l1234/state
func (t Topics) Entity(class, id, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.ns(), class, id, leaf)
}

// EntityConfig returns the discovery config topic of an entity.
func (t Topics) EntityConfig(class, id string) string {
	return t.Entity(class, id, LeafConfig)
}

// EntityState returns the state topic of an entity.
func (t Topics) EntityState(class, id string) string {
	return t.Entity(class, id, LeafState)
}

// EntityCommand returns the command topic of an entity.
func (t Topics) EntityCommand(class, id string) string {
	return t.Entity(class, id, LeafCommand)
}

// BridgeHealth returns the health topic of a protocol bridge.
//
// Example: railhub/bridge/jmri/health
func (t Topics) BridgeHealth(slug string) string {
	return fmt.Sprintf("%s/bridge/%s/health", t.ns(), slug)
}

// BridgeStatus returns the availability topic of a protocol bridge.
//
// Example: railhub/bridge/jmri/status
func (t Topics) BridgeStatus(slug string) string {
	return fmt.Sprintf("%s/bridge/%s/status", t.ns(), slug)
}

// AllConfigs returns a pattern matching every entity config topic.
//
// Pattern: railhub/+/+/config
func (t Topics) AllConfigs() string {
	return t.Entity("+", "+", LeafConfig)
}

// AllStates returns a pattern matching every entity state topic.
//
// Pattern: railhub/+/+/state
func (t Topics) AllStates() string {
	return t.Entity("+", "+", LeafState)
}

// AllCommands returns a pattern matching every command topic of one class.
//
// Pattern: railhub/decoder/+/set
func (t Topics) AllCommands(class string) string {
	return t.Entity(class, "+", LeafCommand)
}

// ParseEntityTopic splits an entity topic into class, id and leaf. It
// reports false for topics outside the namespace or with the wrong depth.
func (t Topics) ParseEntityTopic(topic string) (class, id, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.ns()+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// CommandForState derives the conventional command topic from a state
// topic by replacing a trailing "/state" with "/set".
func CommandForState(stateTopic string) string {
	if base, ok := strings.CutSuffix(stateTopic, "/"+LeafState); ok {
		return base + "/" + LeafCommand
	}
	return stateTopic + "/" + LeafCommand
}
