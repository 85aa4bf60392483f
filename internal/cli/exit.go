package cli

import (
	"errors"
	"fmt"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Script error, invalid syntax or failed plan step
	ExitCommandError = 2 // Bad arguments, unreadable files, unknown engine
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func failure(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitFailure, Err: fmt.Errorf(format, args...)}
}

func commandError(err error) *ExitError {
	return &ExitError{Code: ExitCommandError, Err: err}
}

// ExitCode extracts the exit code from an error. Errors that are not an
// ExitError, such as flag parsing failures, map to ExitCommandError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}
