package mqtt

import "errors"

// Sentinel errors. Failures from the broker are wrapped with %w, so check
// them with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics and for wildcards in a
	// publish topic.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidEntityConfig is returned for discovery payloads that fail to
	// decode or miss required fields.
	ErrInvalidEntityConfig = errors.New("mqtt: invalid entity config")
)
