package catalog

import "errors"

// Domain errors for the catalog package.
var (
	// ErrReadFailed is returned when the backing store cannot be read.
	ErrReadFailed = errors.New("catalog: read failed")

	// ErrUnknownKind is returned when a configured entity has a kind the
	// state store cannot hold.
	ErrUnknownKind = errors.New("catalog: unknown entity kind")
)
