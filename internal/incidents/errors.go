package incidents

import (
	"errors"
	"fmt"
)

// Incident errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidIncident  = errors.New("invalid incident")
	ErrStorage          = errors.New("incident storage unavailable")
)

// ValidationError describes a rejected field. It matches ErrInvalidIncident
// with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidField returns the rejected field and the reason.
func (e *ValidationError) InvalidField() (field, reason string) {
	return e.Field, e.Reason
}

// Is reports whether target is ErrInvalidIncident.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidIncident
}

// StorageError wraps err so that it matches ErrStorage while keeping the cause.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
