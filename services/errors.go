package services

import (
	"errors"
	"fmt"

	"github.com/yourusername/tevani-core/utils"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrStateConflict   = errors.New("state conflict")
	ErrValidationInput = errors.New("invalid input")
	ErrTransport       = utils.ErrTransport
)

// TransportError never leaves this package; failed dispatches are recorded on
// the notification row.
type TransportError = utils.TransportError

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type StateConflictError struct {
	Entity   string
	ID       string
	Expected string
	Actual   string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.ID, e.Actual, e.Expected)
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

type ValidationInputError struct {
	Field  string
	Reason string
}

func (e *ValidationInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationInputError) Is(target error) bool { return target == ErrValidationInput }
