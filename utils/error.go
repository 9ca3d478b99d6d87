package utils

import (
	"errors"
	"fmt"
)

// Error categories surfaced by workflows. Handlers map these to HTTP codes.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrStaleState    = errors.New("stale state")
	ErrNotAuthorized = errors.New("not authorized")
)

// ErrorRecordNotFound is the generic lookup miss. It carries the ErrNotFound
// category so handlers map it to 404 like every other missing entity.
var ErrorRecordNotFound = fmt.Errorf("%w: record", ErrNotFound)

func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundError(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// StaleStateError signals a transition attempted on an entity that is no
// longer in the expected source state. Callers must not retry blindly.
func StaleStateError(entity string, id any, expected string) error {
	return fmt.Errorf("%w: %s %v is not %s", ErrStaleState, entity, id, expected)
}

func AuthorizationError(action string) error {
	return fmt.Errorf("%w: %s", ErrNotAuthorized, action)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
