package process

import (
	"os"
	"os/exec"
	"strings"
)

// Spec describes a process to be supervised. It is immutable once handed
// to a Supervisor.
type Spec struct {
	Name      string   `json:"name"`
	Command   []string `json:"command"`            // executable followed by its arguments
	WorkDir   string   `json:"work_dir,omitempty"` // optional working dir
	Port      uint16   `json:"port,omitempty"`     // optional listening port, used by the stop fallback
	Env       []string `json:"env,omitempty"`      // extra KEY=VALUE pairs on top of the inherited env
	Autostart bool     `json:"autostart"`
}

// Startable reports whether the spec names an executable.
func (s Spec) Startable() bool {
	return len(s.Command) > 0 && strings.TrimSpace(s.Command[0]) != ""
}

// BuildCommand constructs the *exec.Cmd for the spec. Callers must check
// Startable first. No shell is involved; commands that need one say so
// explicitly (e.g. ["sh", "-c", "..."]).
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- executing configured commands is the purpose of the supervisor
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}

// CommandLine renders the command for display, quoting arguments that
// contain whitespace.
func (s Spec) CommandLine() string {
	parts := make([]string, len(s.Command))
	for i, a := range s.Command {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
