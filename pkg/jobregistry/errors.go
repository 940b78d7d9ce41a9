package jobregistry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAcquisitionTimeout is returned when the registry lock is not
	// obtained within the configured timeout.
	ErrAcquisitionTimeout = errors.New("registry busy: lock acquisition timed out")

	// ErrInvalidDuration is returned by ParseDuration for malformed input.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrAdmissionRefused matches every *AdmissionError.
	ErrAdmissionRefused = errors.New("admission refused")

	// ErrExclusiveHeld: another job currently holds exclusive access.
	ErrExclusiveHeld = errors.New("another job holds exclusive access")

	// ErrRegistryOccupied: exclusive access was requested while other jobs run.
	ErrRegistryOccupied = errors.New("exclusive access requires that no other job is running")

	// ErrUnsupportedPlatform is returned where advisory locks or process
	// groups are not available.
	ErrUnsupportedPlatform = errors.New("platform does not support advisory locks and process groups")
)

// AdmissionError reports a refused admission together with the registry
// snapshot the decision was based on.
type AdmissionError struct {
	Reason error
	Jobs   Jobs
	// HolderID is the id of the exclusive job, when one exists.
	HolderID string
}

func (e *AdmissionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAdmissionRefused.Error())
	b.WriteString(": ")
	b.WriteString(e.Reason.Error())
	if e.HolderID != "" {
		if j, ok := e.Jobs[e.HolderID]; ok {
			fmt.Fprintf(&b, " (user %s)", j.User)
		}
	}
	return b.String()
}

func (e *AdmissionError) Unwrap() []error {
	return []error{ErrAdmissionRefused, e.Reason}
}

// TerminatedError is returned by Controller.Run when a termination
// notification ended the job.
type TerminatedError struct {
	Signal string
	// Number is the signal number when known, zero otherwise.
	Number int
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("job terminated by %s", e.Signal)
}
