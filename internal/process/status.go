package process

import (
	"os"
	"strconv"
	"syscall"
	"time"
)

// Status strings derived from liveness.
const (
	StatusRunning = "Running"
	StatusStopped = "Stopped"
)

// Transient tracks the display state of an in-progress or just-finished stop
// sequence. While it is not TransientIdle it takes priority over liveness in
// Supervisor.Status. It returns to TransientIdle on the next start.
type Transient int

const (
	TransientIdle Transient = iota
	TransientTerminating
	TransientStoppedGracefully
	TransientForceKilled
	TransientKilledByPort
)

func (t Transient) String() string {
	switch t {
	case TransientIdle:
		return ""
	case TransientTerminating:
		return "Terminating"
	case TransientStoppedGracefully:
		return "Stopped gracefully"
	case TransientForceKilled:
		return "Force killed"
	case TransientKilledByPort:
		return "Killed by port"
	default:
		return "unknown"
	}
}

// ExitStatus is the recorded outcome of a reaped child. Signal is set when
// the child was terminated by a signal; Code is then -1.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal " + e.Signal
	}
	return "code " + strconv.Itoa(e.Code)
}

// Success reports a normal exit with code 0.
func (e ExitStatus) Success() bool { return e.Signal == "" && e.Code == 0 }

func exitStatusOf(ps *os.ProcessState) *ExitStatus {
	if ps == nil {
		return &ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return &ExitStatus{Code: ps.ExitCode()}
}

// Info is a point-in-time view of a supervisor for display and the API.
type Info struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	Port      uint16        `json:"port,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Exit      *ExitStatus   `json:"exit,omitempty"`
	Command   string        `json:"command"`
}
