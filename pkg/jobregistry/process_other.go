//go:build !unix

package jobregistry

import (
	"os"
	"syscall"
)

// TerminationSignals are the notifications that force a job's cleanup.
var TerminationSignals = []os.Signal{os.Interrupt}

func groupAttr() *syscall.SysProcAttr {
	return nil
}

// KillProcessGroup is not supported on this platform.
func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return ErrUnsupportedPlatform
}

// IsProcessAlive always reports false on this platform.
func IsProcessAlive(int) bool {
	return false
}

func signalNumber(os.Signal) int {
	return 0
}
