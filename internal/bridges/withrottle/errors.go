package withrottle

import "errors"

// Domain errors for the WiThrottle bridge.
var (
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("withrottle: connection failed")

	// ErrConnectionLost is returned when an active session drops.
	ErrConnectionLost = errors.New("withrottle: connection lost")

	// ErrMalformedLine is returned when a wire line cannot be decoded.
	ErrMalformedLine = errors.New("withrottle: malformed line")

	// ErrNoServer is returned when neither an address nor discovery yields
	// a server to dial.
	ErrNoServer = errors.New("withrottle: no server address")

	// ErrInvalidCommand is returned when a bus command payload cannot be
	// turned into wire commands.
	ErrInvalidCommand = errors.New("withrottle: invalid command")

	// ErrInvalidConfig is returned when the bridge is misconfigured.
	ErrInvalidConfig = errors.New("withrottle: invalid config")

	// ErrAlreadyStarted is returned by Start on a running bridge.
	ErrAlreadyStarted = errors.New("withrottle: bridge already started")
)
