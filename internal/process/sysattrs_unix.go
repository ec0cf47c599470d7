//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so that stop
// signals reach the whole tree a wrapper shell may have spawned, and so that
// terminal-generated signals aimed at the dashboard do not reach it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
