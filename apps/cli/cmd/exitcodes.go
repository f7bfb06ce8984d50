package cmd

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
)

// Exit codes for the aidb-smoke CLI
const (
	// ExitSuccess indicates the scenario completed
	ExitSuccess = 0

	// ExitTestFailure indicates a step failed
	ExitTestFailure = 1

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates the server could not be reached
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries the process exit code for an error. When reported is
// set the error has already been shown to the user.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: ExitConfigError, err: err}
}

func usageError(err error) error {
	return &exitError{code: ExitUsageError, err: err}
}

// exitCodeFor maps an error returned by a command to the process exit code
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitTestFailure
}

// resultExitCode maps a finished run to its exit code
func resultExitCode(result *runner.RunResult) int {
	switch {
	case result == nil || result.Err == nil:
		return ExitSuccess
	case runner.IsTransport(result.Err):
		return ExitNetworkError
	default:
		return ExitTestFailure
	}
}

// runError turns a failed run into a command error without reprinting it
func runError(result *runner.RunResult) error {
	code := resultExitCode(result)
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code, err: result.Err, reported: true}
}
