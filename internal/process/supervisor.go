package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loykin/procdash/internal/logbuf"
	"golang.org/x/sys/unix"
)

// Supervisor owns the lifecycle of one child process: spawning it, capturing
// its output into a bounded buffer, stopping it (SIGTERM, then SIGKILL, then
// the port fallback) and deriving its display status.
//
// Lock order: opMu (serializes Start/Stop/Restart) before mu (guards state).
// mu is never held across a blocking wait or an external command.
type Supervisor struct {
	spec Spec
	opts Options
	logs *logbuf.Buffer

	opMu sync.Mutex

	mu        sync.Mutex
	h         *handle
	startedAt time.Time
	exit      *ExitStatus
	transient Transient
}

// handle is a live child. done is closed by the watcher goroutine once
// cmd.Wait returns; state is valid after that.
type handle struct {
	cmd   *exec.Cmd
	pid   int
	done  chan struct{}
	state *os.ProcessState
}

func (h *handle) watch() {
	_ = h.cmd.Wait()
	h.state = h.cmd.ProcessState
	close(h.done)
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// waitFor polls for exit every interval until grace elapses.
func (h *handle) waitFor(grace, interval time.Duration) bool {
	deadline := time.Now().Add(grace)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if h.exited() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-h.done:
			return true
		case <-t.C:
		}
	}
}

func New(spec Spec, opts Options) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{spec: spec, opts: opts, logs: opts.Buffer}
}

func (s *Supervisor) Name() string           { return s.spec.Name }
func (s *Supervisor) Spec() Spec             { return s.spec }
func (s *Supervisor) Buffer() *logbuf.Buffer { return s.logs }

// Logs returns a copy of the captured output and supervisor messages.
func (s *Supervisor) Logs() []string { return s.logs.Lines() }

// Start spawns the child unless one is already held. Failures are reported
// through the log buffer only. Start never waits for the child.
func (s *Supervisor) Start() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.start()
}

// Stop terminates the child (graceful, then forced) and runs the port
// fallback. It blocks for at most the grace window plus the time the kernel
// takes to deliver SIGKILL and the port lookup.
func (s *Supervisor) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop()
}

// Restart is Stop followed by Start.
func (s *Supervisor) Restart() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop()
	s.start()
}

func (s *Supervisor) start() {
	s.mu.Lock()
	ev, reaped := s.reapLocked()
	held := s.h != nil
	s.mu.Unlock()
	if reaped {
		s.emit(ev)
	}
	if held {
		return
	}

	if !s.spec.Startable() {
		s.logs.Append("No command configured")
		s.opts.Logger.Warn("start skipped: empty command", "name", s.spec.Name)
		return
	}

	cmd := s.spec.BuildCommand()
	outR, errR, err := attachPipes(cmd)
	if err == nil {
		err = cmd.Start()
		// the child holds its own copies of the write ends now
		closeQuietly(cmd.Stdout, cmd.Stderr)
		if err != nil {
			closeQuietly(outR, errR)
		}
	}

	s.mu.Lock()
	s.transient = TransientIdle
	s.mu.Unlock()

	if err != nil {
		s.logs.Appendf("Failed to start: %v", err)
		s.opts.Logger.Error("failed to start process", "name", s.spec.Name, "error", err)
		s.emit(Event{Type: EventSpawnFailed, Name: s.spec.Name, Err: err.Error(), OccurredAt: time.Now()})
		return
	}

	h := &handle{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go h.watch()

	now := time.Now()
	s.mu.Lock()
	s.h = h
	s.startedAt = now
	s.exit = nil
	s.mu.Unlock()

	wd := s.spec.WorkDir
	if wd == "" {
		wd = "(inherited)"
	}
	s.logs.Appendf("Working directory: %s", wd)
	s.logs.Appendf("Command: %s", s.spec.CommandLine())
	s.logs.Append("--- start logs ---")

	go s.capture(outR)
	go s.capture(errR)

	s.opts.Logger.Info("process started", "name", s.spec.Name, "pid", h.pid)
	s.emit(Event{Type: EventStart, Name: s.spec.Name, PID: h.pid, Port: s.spec.Port, OccurredAt: now})
}

func (s *Supervisor) stop() {
	// Terminating is set in the same critical section that inspects the
	// handle, so Status cannot reap the child once the stop has claimed it.
	s.mu.Lock()
	h := s.h
	ev, exited := s.reapLocked()
	if h != nil && !exited {
		s.transient = TransientTerminating
	}
	s.mu.Unlock()

	reaped := h != nil
	if exited {
		// exited on its own before anyone looked; nothing to signal
		s.emit(ev)
	} else if h != nil {
		s.terminate(h)
	}

	if s.portFallbackWanted(reaped) {
		s.killByPort()
	}

	s.mu.Lock()
	s.startedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Supervisor) terminate(h *handle) {
	if !h.exited() {
		signalTree(h.cmd.Process, unix.SIGTERM)
	}

	if h.waitFor(s.opts.GracePeriod, s.opts.PollInterval) {
		exit := s.finish(h, TransientStoppedGracefully)
		s.logs.Append("Stopped gracefully")
		s.opts.Logger.Info("process stopped gracefully", "name", s.spec.Name, "pid", h.pid, "exit", exit.String())
		s.emit(Event{Type: EventStopped, Name: s.spec.Name, PID: h.pid, Exit: exit, OccurredAt: time.Now()})
		return
	}

	if !h.exited() {
		signalTree(h.cmd.Process, unix.SIGKILL)
	}
	<-h.done
	exit := s.finish(h, TransientForceKilled)
	s.logs.Append("Force killed")
	s.opts.Logger.Warn("process force killed", "name", s.spec.Name, "pid", h.pid, "grace", s.opts.GracePeriod)
	s.emit(Event{Type: EventForceKilled, Name: s.spec.Name, PID: h.pid, Exit: exit, OccurredAt: time.Now()})
}

// finish records the exit of a reaped handle and drops it.
func (s *Supervisor) finish(h *handle, t Transient) *ExitStatus {
	exit := exitStatusOf(h.state)
	s.mu.Lock()
	if s.h == h {
		s.h = nil
	}
	s.exit = exit
	s.startedAt = time.Time{}
	s.transient = t
	s.mu.Unlock()
	return exit
}

func (s *Supervisor) portFallbackWanted(reaped bool) bool {
	if s.spec.Port == 0 || s.opts.Resolver == nil {
		return false
	}
	switch s.opts.PortFallback {
	case PortFallbackNever:
		return false
	case PortFallbackOnFailure:
		return !reaped
	default:
		return true
	}
}

func (s *Supervisor) killByPort() {
	port := s.spec.Port
	pid, ok := s.opts.Resolver.Resolve(context.Background(), port)
	if !ok || pid == os.Getpid() {
		return
	}
	if err := killPID(pid, unix.SIGKILL); err != nil {
		s.opts.Logger.Debug("port fallback kill failed", "name", s.spec.Name, "port", port, "pid", pid, "error", err)
		return
	}
	s.logs.Appendf("Killed pid %d listening on port %d", pid, port)
	s.setTransient(TransientKilledByPort)
	s.opts.Logger.Info("killed port listener", "name", s.spec.Name, "port", port, "pid", pid)
	s.emit(Event{Type: EventPortKilled, Name: s.spec.Name, PID: pid, Port: port, OccurredAt: time.Now()})
}

// Status returns the transient stop status if one is set, otherwise the
// liveness of the child. This is where a child that exited on its own is
// noticed: its exit status is recorded and the handle dropped.
//
// Terminating holds for as long as the stop runs. A stop outcome is reported
// by the first query after the child is gone and then reset to idle.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	switch t := s.transient; {
	case t == TransientTerminating:
		s.mu.Unlock()
		return t.String()
	case t != TransientIdle:
		s.transient = TransientIdle
		if s.h == nil {
			s.mu.Unlock()
			return t.String()
		}
	}
	if s.h == nil {
		s.mu.Unlock()
		return StatusStopped
	}
	ev, reaped := s.reapLocked()
	s.mu.Unlock()
	if !reaped {
		return StatusRunning
	}
	s.emit(ev)
	return StatusStopped
}

// reapLocked drops the handle if its child has exited. The returned event
// must be emitted after mu is released.
func (s *Supervisor) reapLocked() (Event, bool) {
	h := s.h
	if h == nil || !h.exited() {
		return Event{}, false
	}
	s.exit = exitStatusOf(h.state)
	s.h = nil
	s.startedAt = time.Time{}
	s.logs.Appendf("Process exited (%s)", s.exit)
	s.opts.Logger.Info("process exited", "name", s.spec.Name, "pid", h.pid, "exit", s.exit.String())
	return Event{Type: EventExited, Name: s.spec.Name, PID: h.pid, Exit: s.exit, OccurredAt: time.Now()}, true
}

// Snapshot reconciles liveness through Status and returns a copy of the
// supervisor's state.
func (s *Supervisor) Snapshot() Info {
	st := s.Status()
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Name:      s.spec.Name,
		Status:    st,
		Port:      s.spec.Port,
		StartedAt: s.startedAt,
		Command:   s.spec.CommandLine(),
	}
	if s.h != nil {
		info.Running = true
		info.PID = s.h.pid
	}
	if !s.startedAt.IsZero() {
		info.Uptime = time.Since(s.startedAt)
	}
	if s.exit != nil {
		e := *s.exit
		info.Exit = &e
	}
	return info
}

// StartedAt returns the start timestamp of the live child, zero when none.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// ExitStatus returns the last recorded exit, nil when none yet.
func (s *Supervisor) ExitStatus() *ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exit == nil {
		return nil
	}
	e := *s.exit
	return &e
}

// PID returns the pid of the held child, 0 when none.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return 0
	}
	return s.h.pid
}

func (s *Supervisor) setTransient(t Transient) {
	s.mu.Lock()
	s.transient = t
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	if s.opts.OnEvent != nil && ev.Type != "" {
		s.opts.OnEvent(ev)
	}
}

// capture copies one output stream into the buffer line by line until the
// stream closes, which happens once every holder of the write end is gone.
func (s *Supervisor) capture(r *os.File) {
	defer func() { _ = r.Close() }()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.logs.Append(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.opts.Logger.Debug("output capture ended", "name", s.spec.Name, "error", err)
			}
			return
		}
	}
}

// attachPipes wires fresh pipes to the child's stdout and stderr and returns
// the read ends.
func attachPipes(cmd *exec.Cmd) (*os.File, *os.File, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeQuietly(outR, outW)
		return nil, nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	return outR, errR, nil
}

func closeQuietly(vs ...any) {
	for _, v := range vs {
		if c, ok := v.(io.Closer); ok && c != nil {
			_ = c.Close()
		}
	}
}
