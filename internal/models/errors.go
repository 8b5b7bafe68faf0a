package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownActor     = errors.New("unknown actor")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrNoCandidate      = errors.New("no eligible candidate")
	ErrActorUnavailable = errors.New("actor not available")
	ErrTimeout          = errors.New("operation timed out")
)

// InvalidArgumentError rejects bad input before any state mutation.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func InvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// InvalidTransitionError is returned when a lifecycle guard refuses an event.
// The request's state is untouched when this is returned.
type InvalidTransitionError struct {
	RequestID string
	From      Status
	Event     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s: event %q not allowed in state %q", e.RequestID, e.Event, e.From)
}

func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

func IsInvalidArgument(err error) bool {
	var iae *InvalidArgumentError
	return errors.As(err, &iae)
}
