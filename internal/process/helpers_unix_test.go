//go:build !windows

package process

import "syscall"

var syscallZero = syscall.Signal(0)
