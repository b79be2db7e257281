package automation

import "errors"

// Domain errors for the automation package.
var (
	// ErrInvalidOptions is returned when NewEngine is missing a dependency.
	ErrInvalidOptions = errors.New("automation: invalid options")

	// ErrPublishFailed is returned when a signal command cannot be published.
	ErrPublishFailed = errors.New("automation: publish failed")
)
