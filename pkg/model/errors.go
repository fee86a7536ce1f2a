package model

import (
	"errors"
	"fmt"
)

// Expected outcomes. Callers resolve these locally and move on to the next
// request or connection.
var (
	ErrGridExhausted     = errors.New("grid exhausted")
	ErrRegionConflict    = errors.New("region conflict")
	ErrRegionOutOfBounds = errors.New("region out of bounds")
	ErrNoFreeProcess     = errors.New("no free harq process")
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the probe API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// InvalidTransitionError is raised when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s -> %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// ConsistencyError reports a broken engine invariant. It is raised with panic
// and aborts the run.
type ConsistencyError struct {
	Component string
	Message   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: consistency violated: %s", e.Component, e.Message)
}

// Inconsistent panics with a ConsistencyError.
func Inconsistent(component, format string, args ...any) {
	panic(&ConsistencyError{Component: component, Message: fmt.Sprintf(format, args...)})
}
