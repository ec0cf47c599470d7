package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/procdash/internal/logbuf"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// waitUntil polls cond every 10ms until it holds or d elapses.
func waitUntil(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func containsPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

type fakeResolver struct {
	pid   int
	ok    bool
	calls atomic.Int32
}

func (f *fakeResolver) Resolve(context.Context, uint16) (int, bool) {
	f.calls.Add(1)
	return f.pid, f.ok
}

func (f *fakeResolver) Describe() string { return "fake" }

type eventLog struct {
	mu  sync.Mutex
	evs []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestStartReportsRunningAndCapturesOutput(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "echo-loop", Command: []string{"sh", "-c", "echo hi; echo oops 1>&2; sleep 5"}}, Options{})
	s.Start()
	defer s.Stop()

	if st := s.Status(); st != StatusRunning {
		t.Fatalf("expected Running right after start, got %q", st)
	}
	if !waitUntil(2*time.Second, func() bool {
		l := s.Logs()
		return containsLine(l, "hi") && containsLine(l, "oops")
	}) {
		t.Fatalf("stdout/stderr not captured: %#v", s.Logs())
	}
	logs := s.Logs()
	if !containsLine(logs, "Command: sh -c 'echo hi; echo oops 1>&2; sleep 5'") {
		t.Fatalf("missing invocation record: %#v", logs)
	}
	if s.PID() <= 0 || s.StartedAt().IsZero() {
		t.Fatalf("pid/start time not recorded: pid=%d started=%v", s.PID(), s.StartedAt())
	}
}

func TestProcessExitIsObservedOnceByStatus(t *testing.T) {
	requireUnix(t)
	events := &eventLog{}
	s := New(Spec{Name: "short", Command: []string{"sh", "-c", "echo bye; exit 3"}}, Options{OnEvent: events.handle})
	s.Start()

	if !waitUntil(3*time.Second, func() bool { return s.Status() == StatusStopped }) {
		t.Fatalf("process did not reach Stopped")
	}
	exit := s.ExitStatus()
	if exit == nil || exit.Code != 3 || exit.Signal != "" {
		t.Fatalf("unexpected exit status: %+v", exit)
	}
	if !s.StartedAt().IsZero() {
		t.Fatalf("start time should be cleared after exit")
	}
	// further queries must not report the exit again
	_ = s.Status()
	_ = s.Status()
	if n := events.count(EventExited); n != 1 {
		t.Fatalf("expected exactly one exited event, got %d", n)
	}
	if n := events.count(EventStart); n != 1 {
		t.Fatalf("expected one start event, got %d", n)
	}
}

func TestExitCodeZeroAfterNaturalExit(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "ok", Command: []string{"sh", "-c", "echo hi; sleep 0.2"}}, Options{})
	s.Start()
	if st := s.Status(); st != StatusRunning {
		t.Fatalf("expected Running, got %q", st)
	}
	if !waitUntil(3*time.Second, func() bool { return s.Status() == StatusStopped }) {
		t.Fatalf("process did not stop on its own")
	}
	exit := s.ExitStatus()
	if exit == nil || !exit.Success() {
		t.Fatalf("expected normal exit with code 0, got %+v", exit)
	}
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	requireUnix(t)
	events := &eventLog{}
	s := New(Spec{Name: "idem", Command: []string{"sleep", "5"}}, Options{OnEvent: events.handle})
	s.Start()
	defer s.Stop()
	pid := s.PID()
	started := s.StartedAt()

	s.Start()
	if s.PID() != pid {
		t.Fatalf("second start spawned a new process: %d != %d", s.PID(), pid)
	}
	if !s.StartedAt().Equal(started) {
		t.Fatalf("start timestamp changed on idempotent start")
	}
	if n := events.count(EventStart); n != 1 {
		t.Fatalf("expected one start event, got %d", n)
	}
}

func TestSpawnFailureIsLoggedNotReturned(t *testing.T) {
	requireUnix(t)
	events := &eventLog{}
	s := New(Spec{Name: "bad", Command: []string{"/nonexistent-binary"}}, Options{OnEvent: events.handle})
	s.Start()
	if !containsPrefix(s.Logs(), "Failed to start") {
		t.Fatalf("missing failure line: %#v", s.Logs())
	}
	if st := s.Status(); st != StatusStopped {
		t.Fatalf("expected Stopped, got %q", st)
	}
	if s.PID() != 0 || !s.StartedAt().IsZero() {
		t.Fatalf("handle retained after spawn failure")
	}
	if events.count(EventSpawnFailed) != 1 {
		t.Fatalf("expected spawn_failed event")
	}
}

func TestInvalidWorkDirIsSpawnFailure(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "wd", Command: []string{"true"}, WorkDir: filepath.Join(t.TempDir(), "missing")}, Options{})
	s.Start()
	if !containsPrefix(s.Logs(), "Failed to start") || s.Status() != StatusStopped {
		t.Fatalf("expected spawn failure for missing work dir, logs=%#v", s.Logs())
	}
}

func TestEmptyCommandLogsDiagnostic(t *testing.T) {
	s := New(Spec{Name: "empty"}, Options{})
	s.Start()
	logs := s.Logs()
	if len(logs) != 1 || logs[0] != "No command configured" {
		t.Fatalf("unexpected logs: %#v", logs)
	}
	if s.Status() != StatusStopped || s.PID() != 0 {
		t.Fatalf("empty command must not start anything")
	}
}

func TestWorkDirAndEnvApplied(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	s := New(Spec{
		Name:    "env",
		Command: []string{"sh", "-c", "pwd; echo $PROCDASH_TEST"},
		WorkDir: dir,
		Env:     []string{"PROCDASH_TEST=yes"},
	}, Options{})
	s.Start()
	// resolve symlinks (macOS /var -> /private/var)
	want, _ := filepath.EvalSymlinks(dir)
	if !waitUntil(2*time.Second, func() bool {
		l := s.Logs()
		return containsLine(l, "yes") && (containsLine(l, dir) || containsLine(l, want))
	}) {
		t.Fatalf("workdir/env not applied: %#v", s.Logs())
	}
}

func TestStopGraceful(t *testing.T) {
	requireUnix(t)
	events := &eventLog{}
	s := New(Spec{Name: "graceful", Command: []string{"sleep", "30"}}, Options{OnEvent: events.handle})
	s.Start()
	pid := s.PID()

	begin := time.Now()
	s.Stop()
	if el := time.Since(begin); el > 900*time.Millisecond {
		t.Fatalf("graceful stop took too long: %v", el)
	}
	if st := s.Status(); st != TransientStoppedGracefully.String() {
		t.Fatalf("expected %q, got %q", TransientStoppedGracefully, st)
	}
	if s.PID() != 0 || !s.StartedAt().IsZero() {
		t.Fatalf("handle or start time retained after stop")
	}
	exit := s.ExitStatus()
	if exit == nil || exit.Signal == "" {
		t.Fatalf("expected signal exit after SIGTERM, got %+v", exit)
	}
	if !containsLine(s.Logs(), "Stopped gracefully") {
		t.Fatalf("missing stop line: %#v", s.Logs())
	}
	if events.count(EventStopped) != 1 || events.count(EventForceKilled) != 0 {
		t.Fatalf("unexpected events: %+v", events.evs)
	}
	if processAlive(pid) {
		t.Fatalf("pid %d still alive after stop", pid)
	}
}

func TestStopForceKillsWhenTermIgnored(t *testing.T) {
	requireUnix(t)
	grace := 300 * time.Millisecond
	s := New(Spec{Name: "stubborn", Command: []string{"sh", "-c", "trap '' TERM; echo ready; while true; do sleep 0.05; done"}},
		Options{GracePeriod: grace, PollInterval: 10 * time.Millisecond})
	s.Start()
	if !waitUntil(2*time.Second, func() bool { return containsLine(s.Logs(), "ready") }) {
		t.Fatalf("child never became ready: %#v", s.Logs())
	}
	pid := s.PID()

	begin := time.Now()
	s.Stop()
	el := time.Since(begin)
	if el < grace {
		t.Fatalf("stop returned before the grace window: %v", el)
	}
	if el > grace+2*time.Second {
		t.Fatalf("stop blocked too long: %v", el)
	}
	if st := s.Status(); st != TransientForceKilled.String() {
		t.Fatalf("expected %q, got %q", TransientForceKilled, st)
	}
	if exit := s.ExitStatus(); exit == nil || exit.Signal != "killed" {
		t.Fatalf("expected SIGKILL exit, got %+v", exit)
	}
	if !containsLine(s.Logs(), "Force killed") {
		t.Fatalf("missing force kill line: %#v", s.Logs())
	}
	if processAlive(pid) {
		t.Fatalf("pid %d alive after force kill", pid)
	}
}

func TestStopWithoutProcessStillRunsPortFallback(t *testing.T) {
	res := &fakeResolver{}
	s := New(Spec{Name: "ported", Command: []string{"true"}, Port: 8080}, Options{Resolver: res})
	s.Stop()
	if res.calls.Load() != 1 {
		t.Fatalf("expected one port lookup, got %d", res.calls.Load())
	}
	if len(s.Logs()) != 0 {
		t.Fatalf("no kill line expected when port resolves to nothing: %#v", s.Logs())
	}
	if st := s.Status(); st != StatusStopped {
		t.Fatalf("expected Stopped, got %q", st)
	}
}

func TestStopWithoutPortSkipsResolver(t *testing.T) {
	res := &fakeResolver{}
	s := New(Spec{Name: "noport", Command: []string{"true"}}, Options{Resolver: res})
	s.Stop()
	if res.calls.Load() != 0 {
		t.Fatalf("resolver should not be consulted without a port")
	}
}

func TestPortFallbackKillsListener(t *testing.T) {
	requireUnix(t)
	// an unrelated process standing in for a daemonized worker
	victim := exec.Command("sleep", "30")
	if err := victim.Start(); err != nil {
		t.Fatalf("start victim: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = victim.Wait(); close(done) }()

	events := &eventLog{}
	res := &fakeResolver{pid: victim.Process.Pid, ok: true}
	s := New(Spec{Name: "daemon", Command: []string{"true"}, Port: 9999}, Options{Resolver: res, OnEvent: events.handle})
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = victim.Process.Kill()
		t.Fatalf("port fallback did not kill pid %d", victim.Process.Pid)
	}
	if st := s.Status(); st != TransientKilledByPort.String() {
		t.Fatalf("expected %q, got %q", TransientKilledByPort, st)
	}
	if !containsPrefix(s.Logs(), "Killed pid ") {
		t.Fatalf("missing port kill line: %#v", s.Logs())
	}
	if events.count(EventPortKilled) != 1 {
		t.Fatalf("expected port_killed event")
	}
}

func TestPortFallbackPolicy(t *testing.T) {
	requireUnix(t)
	cases := []struct {
		policy PortFallback
		want   int32
	}{
		{PortFallbackAlways, 1},
		{PortFallbackOnFailure, 0},
		{PortFallbackNever, 0},
	}
	for _, tc := range cases {
		res := &fakeResolver{}
		s := New(Spec{Name: "p", Command: []string{"sleep", "5"}, Port: 7000}, Options{Resolver: res, PortFallback: tc.policy})
		s.Start()
		s.Stop()
		if got := res.calls.Load(); got != tc.want {
			t.Fatalf("%s: expected %d lookups after a graceful stop, got %d", tc.policy, tc.want, got)
		}
	}
	// on_failure still runs when nothing was owned
	res := &fakeResolver{}
	s := New(Spec{Name: "p", Command: []string{"true"}, Port: 7000}, Options{Resolver: res, PortFallback: PortFallbackOnFailure})
	s.Stop()
	if res.calls.Load() != 1 {
		t.Fatalf("on_failure should look up the port when no child was held")
	}
}

func TestStatusShowsTerminatingDuringStop(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "slow", Command: []string{"sh", "-c", "trap '' TERM; while true; do sleep 0.05; done"}},
		Options{GracePeriod: 500 * time.Millisecond})
	s.Start()
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() { s.Stop(); close(stopped) }()
	if !waitUntil(time.Second, func() bool { return s.Status() == TransientTerminating.String() }) {
		t.Fatalf("expected Terminating while stop is in progress, got %q", s.Status())
	}
	<-stopped
	if st := s.Status(); st == TransientTerminating.String() {
		t.Fatalf("Terminating must not outlive the stop")
	}
}

func TestStopOutcomeIsReportedOnce(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "once", Command: []string{"sleep", "30"}}, Options{})
	s.Start()
	s.Stop()
	if st := s.Status(); st != TransientStoppedGracefully.String() {
		t.Fatalf("first query after stop: expected %q, got %q", TransientStoppedGracefully, st)
	}
	for i := 0; i < 2; i++ {
		if st := s.Status(); st != StatusStopped {
			t.Fatalf("query %d after stop: expected %q, got %q", i+2, StatusStopped, st)
		}
	}
	if info := s.Snapshot(); info.Status != StatusStopped {
		t.Fatalf("snapshot after the outcome was shown: %q", info.Status)
	}
}

func TestStopRacingNaturalExitRecordsOneOutcome(t *testing.T) {
	requireUnix(t)
	for i := 0; i < 10; i++ {
		events := &eventLog{}
		s := New(Spec{Name: "racer", Command: []string{"sh", "-c", "sleep 0.1"}},
			Options{PollInterval: time.Millisecond, OnEvent: events.handle})
		s.Start()

		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				default:
					_ = s.Status()
				}
			}
		}()
		time.Sleep(100 * time.Millisecond)
		s.Stop()
		close(done)

		n := events.count(EventExited) + events.count(EventStopped) + events.count(EventForceKilled)
		if n != 1 {
			t.Fatalf("iteration %d: expected exactly one exit outcome, got %+v", i, events.evs)
		}
		if st := s.Status(); st != StatusStopped && st != TransientStoppedGracefully.String() {
			t.Fatalf("iteration %d: unexpected status %q", i, st)
		}
	}
}

func TestRestartGivesFreshStartAndClearsTransient(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "rs", Command: []string{"sleep", "30"}}, Options{})
	s.Start()
	first := s.StartedAt()
	firstPID := s.PID()
	time.Sleep(10 * time.Millisecond)

	s.Restart()
	defer s.Stop()
	if !s.StartedAt().After(first) {
		t.Fatalf("restart must produce a later start time: %v !> %v", s.StartedAt(), first)
	}
	if s.PID() == firstPID {
		t.Fatalf("restart must spawn a new process")
	}
	if st := s.Status(); st != StatusRunning {
		t.Fatalf("transient status leaked past restart: %q", st)
	}
	if s.ExitStatus() != nil {
		t.Fatalf("exit status should be cleared on start")
	}
}

func TestStopAfterNaturalExitDoesNotSignal(t *testing.T) {
	requireUnix(t)
	events := &eventLog{}
	s := New(Spec{Name: "gone", Command: []string{"true"}}, Options{OnEvent: events.handle})
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	if events.count(EventExited) != 1 || events.count(EventStopped) != 0 {
		t.Fatalf("expected exit to be recorded without a stop: %+v", events.evs)
	}
	if st := s.Status(); st != StatusStopped {
		t.Fatalf("expected Stopped, got %q", st)
	}
}

func TestBufferIsKeptAcrossRestarts(t *testing.T) {
	requireUnix(t)
	buf := logbuf.New(100)
	s := New(Spec{Name: "keep", Command: []string{"sh", "-c", "echo run; sleep 5"}}, Options{Buffer: buf})
	s.Start()
	waitUntil(2*time.Second, func() bool { return containsLine(buf.Lines(), "run") })
	s.Restart()
	defer s.Stop()
	waitUntil(2*time.Second, func() bool {
		n := 0
		for _, l := range buf.Lines() {
			if l == "run" {
				n++
			}
		}
		return n == 2
	})
	n := 0
	for _, l := range s.Logs() {
		if l == "run" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("expected output from both runs, got %#v", s.Logs())
	}
	if s.Buffer() != buf {
		t.Fatalf("supervisor must use the provided buffer")
	}
}

func TestSnapshot(t *testing.T) {
	requireUnix(t)
	s := New(Spec{Name: "snap", Command: []string{"sleep", "5"}, Port: 8081}, Options{})
	s.Start()
	defer s.Stop()
	time.Sleep(20 * time.Millisecond)
	info := s.Snapshot()
	if info.Name != "snap" || info.Status != StatusRunning || !info.Running || info.PID <= 0 || info.Port != 8081 {
		t.Fatalf("unexpected snapshot: %+v", info)
	}
	if info.Uptime <= 0 || info.Command != "sleep 5" {
		t.Fatalf("unexpected uptime/command: %+v", info)
	}
	if u, ok := s.Usage(); ok && u.RSSBytes == 0 {
		t.Fatalf("usage sample reported zero RSS: %+v", u)
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// a reaped pid returns ESRCH; zombies are already reaped by the watcher
	return p.Signal(syscallZero) == nil
}
