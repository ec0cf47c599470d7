package portresolve

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single socket table query.
const DefaultTimeout = 2 * time.Second

// Resolver maps a listening TCP port to the id of the process that owns it.
// A false result covers every failure mode: unreadable table, no listener,
// unparsable output. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, port uint16) (int, bool)
	Describe() string
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- fixed command, only the port is variable and it is not passed here
	return exec.CommandContext(ctx, name, args...).Output()
}

// SocketTable resolves ports by running one socket enumeration command and
// scanning its text output. Only the marker-prefixed pid field is assumed;
// column order is not.
type SocketTable struct {
	Command []string
	Marker  string
	Timeout time.Duration
	Run     Runner
}

// NewSS returns a SocketTable that queries `ss -ltnpH`.
func NewSS() *SocketTable {
	return &SocketTable{
		Command: []string{"ss", "-ltnpH"},
		Marker:  "pid=",
		Timeout: DefaultTimeout,
		Run:     execRunner,
	}
}

func (s *SocketTable) Describe() string { return "cmd:" + strings.Join(s.Command, " ") }

func (s *SocketTable) Resolve(ctx context.Context, port uint16) (int, bool) {
	if port == 0 || len(s.Command) == 0 {
		return 0, false
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run := s.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, s.Command[0], s.Command[1:]...)
	if err != nil && len(out) == 0 {
		return 0, false
	}
	return ParseTable(string(out), port, s.Marker)
}

// ParseTable scans socket table text for the first line whose local address
// ends in :port and returns the number that follows marker on that line.
func ParseTable(out string, port uint16, marker string) (int, bool) {
	if marker == "" {
		marker = "pid="
	}
	suffix := ":" + strconv.Itoa(int(port))
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !hasPortField(line, suffix) {
			continue
		}
		if pid, ok := pidAfter(line, marker); ok {
			return pid, true
		}
	}
	return 0, false
}

func hasPortField(line, suffix string) bool {
	for _, f := range strings.Fields(line) {
		if strings.HasSuffix(f, suffix) {
			return true
		}
	}
	return false
}

func pidAfter(line, marker string) (int, bool) {
	i := strings.Index(line, marker)
	if i < 0 {
		return 0, false
	}
	rest := line[i+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Resolver kinds accepted by New.
const (
	KindSS   = "ss"
	KindProc = "proc"
)

// New returns the resolver registered under kind.
func New(kind string) (Resolver, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindSS:
		return NewSS(), nil
	case KindProc:
		return NewProc(), nil
	default:
		return nil, fmt.Errorf("unknown port resolver %q (want ss or proc)", kind)
	}
}
