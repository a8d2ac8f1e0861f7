package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the coordinator's error taxonomy. Use errors.Is to test.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorizedHandoff    = errors.New("unauthorized handoff")
	ErrMissingConflictHandler = errors.New("missing conflict handler")
	ErrAlreadyResolved        = errors.New("conflict already resolved")
	ErrExecutionFailure       = errors.New("execution failure")
	ErrTimeout                = errors.New("timeout")
)

// ValidationError collects every problem found in one validation pass.
type ValidationError struct {
	Issues []string
}

// NewValidationError builds a ValidationError from formatted issues.
func NewValidationError(issues ...string) *ValidationError {
	return &ValidationError{Issues: issues}
}

func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return ErrValidation.Error()
	case 1:
		return fmt.Sprintf("%s: %s", ErrValidation, e.Issues[0])
	}
	return fmt.Sprintf("%s: %d issues: %s", ErrValidation, len(e.Issues), strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown agent, execution, conflict or record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound is shorthand for &NotFoundError{Kind: kind, ID: id}.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ErrorCode maps an error to a stable wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorizedHandoff):
		return "unauthorized_handoff"
	case errors.Is(err, ErrMissingConflictHandler):
		return "missing_conflict_handler"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrExecutionFailure):
		return "execution_failure"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal_error"
	}
}
