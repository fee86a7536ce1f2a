package model

import (
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Run 'run_123' not found"}
	want := "NOT_FOUND: Run 'run_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Run", "run_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Run 'run_abc' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "Run 'run_abc' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid request",
		FieldError{Field: "limit", Message: "expected int"},
		FieldError{Field: "offset", Message: "expected int"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "HARQProcess",
		ID:     "A/3",
		From:   "FREE",
		To:     "AWAITING_RETRANSMISSION",
	}
	want := "invalid HARQProcess state transition: FREE -> AWAITING_RETRANSMISSION (entity A/3)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInconsistent_Panics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %T is not an error", r)
		}
		var ce *ConsistencyError
		if !errors.As(err, &ce) {
			t.Fatalf("panic value %T is not a ConsistencyError", r)
		}
		if ce.Component != "grid" {
			t.Errorf("Component = %q, want grid", ce.Component)
		}
		if want := "grid: consistency violated: cell 3 taken"; ce.Error() != want {
			t.Errorf("Error() = %q, want %q", ce.Error(), want)
		}
	}()
	Inconsistent("grid", "cell %d taken", 3)
}
