package proximity

import "errors"

// Proximity errors.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidPosition      = errors.New("invalid position")
	ErrPositionUnavailable  = errors.New("position unavailable")
	ErrIncidentsUnavailable = errors.New("incidents unavailable")
)
