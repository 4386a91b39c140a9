// Package errors provides centralized error definitions for the application.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - Unexported errors (err*): Use for internal package errors
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import (
	"errors"
	"fmt"
)

// Lookup errors.
var (
	// ErrNotFound is a generic not found error.
	ErrNotFound = errors.New("not found")
)

// Profile validation errors.
var (
	// ErrInvalidName indicates a profile name that is empty, too short, or too long after cleaning.
	ErrInvalidName = errors.New("invalid profile name")

	// ErrDuplicateName indicates another live profile already uses the name (case-insensitive).
	ErrDuplicateName = errors.New("duplicate profile name")

	// ErrInvalidCriteria indicates a criteria list that violates count, length, or uniqueness rules.
	ErrInvalidCriteria = errors.New("invalid criteria")

	// ErrInvalidBotType indicates a bot type outside the closed set.
	ErrInvalidBotType = errors.New("invalid bot type")

	// ErrInvalidOptimal indicates a non-positive optimal executions value while tracking is enabled.
	ErrInvalidOptimal = errors.New("invalid optimal executions")

	// ErrInvalidText indicates an over-long free-text field.
	ErrInvalidText = errors.New("invalid text field")

	// ErrInvalidEmail indicates an alert recipient that is not a valid e-mail address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidThreshold indicates an alert threshold outside (0, 100].
	ErrInvalidThreshold = errors.New("invalid alert threshold")

	// ErrInvalidCount indicates a negative found count.
	ErrInvalidCount = errors.New("invalid found count")
)

// Persistence errors.
var (
	// ErrPersistence indicates the collection or configuration could not be written.
	ErrPersistence = errors.New("persistence failed")
)

// Schedule errors.
var (
	// ErrInvalidSchedule indicates a schedule configuration without a resolvable trigger.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrUnknownFrequency indicates a frequency outside daily/weekly/monthly.
	ErrUnknownFrequency = errors.New("unknown frequency")

	// ErrSchedulerRunning indicates Start was called on a running loop.
	ErrSchedulerRunning = errors.New("scheduler already running")
)

// Search and dispatch errors.
var (
	// ErrSourceUnreadable indicates a message source could not be opened or parsed.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrDispatchDisabled indicates no dispatch channel is configured.
	ErrDispatchDisabled = errors.New("dispatch disabled")

	// ErrDispatchFailed indicates every configured dispatch channel failed.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// ValidationError names the field and rule a rejected input violated.
type ValidationError struct {
	Field string
	Rule  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Field, e.Rule, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError wrapping the given sentinel.
func Invalid(field, rule string, sentinel error) error {
	return &ValidationError{Field: field, Rule: rule, Err: sentinel}
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
