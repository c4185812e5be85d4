package sandbox

import (
	"errors"
	"fmt"
)

// Error taxonomy. Only ErrValidation and ErrProvision are ever returned as
// errors; the rest classify a Result via Result.Err.
var (
	ErrValidation = errors.New("invalid request")
	ErrProvision  = errors.New("workspace provisioning failed")
	ErrCompile    = errors.New("compilation failed")
	ErrTimeout    = errors.New("deadline exceeded")
	ErrRuntime    = errors.New("program exited with non-zero status")
)

// ValidationError rejects a request before any resource is touched
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationFailed(field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ProvisionError is an infrastructure fault in workspace or permission
// setup. It matches both ErrProvision and the underlying cause, so callers
// can tell a full disk (syscall.ENOSPC) from other failures.
type ProvisionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrProvision, e.Op, e.Path, e.Err)
}

func (e *ProvisionError) Unwrap() []error {
	return []error{ErrProvision, e.Err}
}
