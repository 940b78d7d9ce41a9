//go:build unix

package jobregistry

import (
	"errors"
	"os"
	"syscall"
)

// TerminationSignals are the notifications that force a job's cleanup.
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGHUP,
	syscall.SIGALRM,
	syscall.SIGTERM,
}

// groupAttr places the child in a new process group led by itself, so one
// signal reaches it and every descendant.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup sends SIGTERM to the process group led by pid. Jobs are
// started with Setpgid, so the group id is the job's pid and stays valid
// after the leader has been reaped while other members still run. A group
// that no longer exists is not an error.
func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	target := -pid
	if pid == syscall.Getpgrp() {
		// Never signal our own group; only the process itself.
		target = pid
	}
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// IsProcessAlive reports whether pid names an existing process.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering anything.
	return p.Signal(syscall.Signal(0)) == nil
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
