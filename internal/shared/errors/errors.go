package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrAuthentication     = errors.New("authentication failed")
	ErrNavigation         = errors.New("navigation failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrNotFound           = errors.New("resource not found")
	ErrValidationRejected = errors.New("validation rejected")
	ErrUnsupportedRoute   = errors.New("no adapter for route")
	ErrInterrupted        = errors.New("process interrupted")
)

// Scope describes how far an error reaches: one work item, or the whole run.
type Scope string

const (
	ScopeItem Scope = "item"
	ScopeRun  Scope = "run"
)

// PipelineError represents a pipeline error with context
type PipelineError struct {
	Err     error             `json:"-"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Scope   Scope             `json:"scope"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Authentication creates a run-fatal authentication error
func Authentication(system string, err error) *PipelineError {
	return &PipelineError{
		Err:     errors.Join(ErrAuthentication, err),
		Message: fmt.Sprintf("login to %s failed", system),
		Code:    "AUTHENTICATION",
		Scope:   ScopeRun,
		Details: map[string]string{"system": system},
	}
}

// Navigation creates a navigation error scoped to one item
func Navigation(step string, err error) *PipelineError {
	return &PipelineError{
		Err:     errors.Join(ErrNavigation, err),
		Message: fmt.Sprintf("navigation step %q failed", step),
		Code:    "NAVIGATION",
		Scope:   ScopeItem,
		Details: map[string]string{"step": step},
	}
}

// NavigationFatal creates a navigation error during a phase shared by all
// items (login, listing page), which aborts the run.
func NavigationFatal(step string, err error) *PipelineError {
	e := Navigation(step, err)
	e.Scope = ScopeRun
	return e
}

// Timeout creates a timeout error scoped to one item
func Timeout(step string, err error) *PipelineError {
	return &PipelineError{
		Err:     errors.Join(ErrTimeout, err),
		Message: fmt.Sprintf("timed out during %q", step),
		Code:    "TIMEOUT",
		Scope:   ScopeItem,
		Details: map[string]string{"step": step},
	}
}

// NotFound records a patient or visit absent at the source or in a portal.
// This is an expected state, not a system defect.
func NotFound(resource, key string) *PipelineError {
	return &PipelineError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Code:    "NOT_FOUND",
		Scope:   ScopeItem,
		Details: map[string]string{"resource": resource, "key": key},
	}
}

// Rejected creates a validation rejection with the offending field and reason
func Rejected(field, reason string) *PipelineError {
	return &PipelineError{
		Err:     ErrValidationRejected,
		Message: fmt.Sprintf("field %q rejected: %s", field, reason),
		Code:    "VALIDATION_REJECTED",
		Scope:   ScopeItem,
		Details: map[string]string{"field": field, "reason": reason},
	}
}

// Unsupported records a payer code with no registered adapter
func Unsupported(payerCode string) *PipelineError {
	return &PipelineError{
		Err:     ErrUnsupportedRoute,
		Message: fmt.Sprintf("no portal adapter for payer code %q", payerCode),
		Code:    "NOT_IMPLEMENTED",
		Scope:   ScopeItem,
		Details: map[string]string{"payer_code": payerCode},
	}
}

// Interrupted creates the error a run is finalized with when the process
// receives a termination signal before finishing.
func Interrupted() *PipelineError {
	return &PipelineError{
		Err:     ErrInterrupted,
		Message: "process exited before run completed",
		Code:    "INTERRUPTED",
		Scope:   ScopeRun,
	}
}

// Wrap wraps an error with additional context, preserving code and scope
func Wrap(err error, message string) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return &PipelineError{
			Err:     pe,
			Message: fmt.Sprintf("%s: %s", message, pe.Message),
			Code:    pe.Code,
			Scope:   pe.Scope,
			Details: pe.Details,
		}
	}
	return &PipelineError{
		Err:     err,
		Message: message,
		Code:    "INTERNAL",
		Scope:   ScopeItem,
	}
}

// IsRunFatal reports whether the error should abort the whole run.
// Unknown errors default to item scope so one bad record cannot kill a batch.
func IsRunFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Scope == ScopeRun
	}
	return false
}
