package cli

import (
	"errors"
	"fmt"

	"hlskb/pkg/domain"
)

// Exit codes for kbtool commands.
const (
	ExitSuccess = 0 // Command completed
	ExitFailure = 1 // Operational failure (storage, parse, rollback aborted, ...)
	ExitRefused = 2 // Operator declined or a soft conflict refused the write
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code. Refusals (cancelled, already
// rolled back, duplicate batch) always map to ExitRefused.
func WrapExitError(code int, message string, err error) *ExitError {
	if refused(err) {
		code = ExitRefused
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Plain errors are failures
// unless they are refusals.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if refused(err) {
		return ExitRefused
	}
	return ExitFailure
}

func refused(err error) bool {
	return errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, domain.ErrAlreadyRolledBack) ||
		errors.Is(err, domain.ErrDuplicateBatch)
}
