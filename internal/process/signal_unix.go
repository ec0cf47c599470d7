//go:build !windows

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// signalTree delivers sig to the process group led by the child and, when the
// group is already gone, to the child itself. Errors are not interesting to
// callers: the only thing that matters is whether the child is reaped.
func signalTree(p *os.Process, sig unix.Signal) {
	if p == nil {
		return
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		_ = p.Signal(sig)
	}
}

// killPID sends sig to an arbitrary pid that is not our child.
func killPID(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(pid, sig)
}
