package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// exitFailure is the status for usage errors and refused admissions.
const exitFailure = 1

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
	// Reported is set when the user has already been told what went wrong.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	if e.Message == "" {
		return fmt.Sprintf("%v (exit code %d)", e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// reportedError is an ExitError whose message was already printed.
func reportedError(code int, err error) error {
	return &ExitError{Code: code, Err: err, Reported: true}
}

// exitCodeFor prints err (unless already reported) and returns the status
// the process should exit with.
func exitCodeFor(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		if !ee.Reported {
			msg := ee.Message
			if ee.Err != nil {
				if msg != "" {
					msg += ": "
				}
				msg += ee.Err.Error()
			}
			_, _ = fmt.Fprintf(stderr, "error: %s\n", msg)
		}
		return ee.Code
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	return exitFailure
}

var osExit = os.Exit

// ExitWithCode logs msg and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger != nil {
		if err != nil {
			logger.Error(msg, zap.Error(err), zap.Int("exit_code", code))
		} else {
			logger.Info(msg, zap.Int("exit_code", code))
		}
		_ = logger.Sync()
	}
	osExit(code)
}
