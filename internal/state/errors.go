package state

import "errors"

// Domain errors for the state package.
var (
	// ErrUnknownTopic is returned when updating a topic the store does not hold.
	ErrUnknownTopic = errors.New("state: unknown topic")

	// ErrInvalidPayload is returned when a raw state payload cannot be parsed.
	ErrInvalidPayload = errors.New("state: invalid payload")

	// ErrInvalidState is returned when a payload's state value is not
	// acceptable for the record's kind.
	ErrInvalidState = errors.New("state: invalid state value")
)
