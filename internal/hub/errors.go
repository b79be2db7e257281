package hub

import "errors"

var (
	// ErrInvalidOptions is returned by New when a required dependency is missing.
	ErrInvalidOptions = errors.New("hub: invalid options")

	// ErrSubscribeFailed is returned by Start when a bus subscription fails.
	ErrSubscribeFailed = errors.New("hub: subscribe failed")
)
