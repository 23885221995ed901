package race

import (
	"errors"
	"fmt"

	"github.com/glacials/splits.io/internal/broadcast"
)

var (
	// ErrAuthenticationRequired is returned when an anonymous participant issues a command.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrAuthorizationDenied is returned when a join token or ownership check fails.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrNotFound is returned when a race or entrant does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned when a short id matches more than one race. It wraps ErrNotFound.
	ErrAmbiguous = fmt.Errorf("%w: ambiguous race prefix", ErrNotFound)
	// ErrEntrantNotFound means the entrant vanished, usually because it left concurrently.
	// Callers treat it as a no-op.
	ErrEntrantNotFound = fmt.Errorf("entrant %w", ErrNotFound)
	// ErrTransient wraps persistence or scheduling backend failures.
	ErrTransient = errors.New("backend unavailable")
)

// Message types carried by status validation errors. They take priority over the generic
// <command>_error reply.
const (
	StatusStarted  = broadcast.TypeStartedError
	StatusFinished = broadcast.TypeFinishedError
)

// ValidationError is a field-level or status-level rejection with a human readable reason.
type ValidationError struct {
	Field   string
	Message string
	// Status, when set, is the message type the client receives instead of the generic one.
	Status string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Invalid builds a field-level validation error.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// StatusError builds a status-level validation error.
func StatusError(status, msg string) *ValidationError {
	return &ValidationError{Status: status, Message: msg}
}

// transient marks err as a backend failure unless it already carries a domain meaning.
func transient(op string, err error) error {
	var ve *ValidationError
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) || errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
