package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors for the API server.
var (
	// ErrInvalidDeps indicates New was called without a required dependency.
	ErrInvalidDeps = errors.New("api: invalid dependencies")

	// ErrNotStarted indicates the server has not been started.
	ErrNotStarted = errors.New("api: server not started")

	// ErrUnknownTopic indicates a control message named a topic with no record.
	ErrUnknownTopic = errors.New("api: unknown topic")

	// ErrWrongKind indicates a control message targeted a record of the wrong kind.
	ErrWrongKind = errors.New("api: wrong entity kind")

	// ErrInvalidControl indicates a malformed control message.
	ErrInvalidControl = errors.New("api: invalid control message")

	// ErrNoPublisher indicates control commands arrived with no bus publisher.
	ErrNoPublisher = errors.New("api: no bus publisher")

	// ErrPublishFailed indicates the bus rejected a control command.
	ErrPublishFailed = errors.New("api: publish failed")
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

// controlErrorCode classifies a rejected control message for the client.
func controlErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTopic):
		return ErrCodeNotFound
	case errors.Is(err, ErrNoPublisher), errors.Is(err, ErrPublishFailed):
		return ErrCodeUnavailable
	default:
		return ErrCodeBadRequest
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="railhub"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
