package manager

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/procdash/internal/env"
	"github.com/loykin/procdash/internal/history"
	"github.com/loykin/procdash/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

func sh(name, script string) process.Spec {
	return process.Spec{Name: name, Command: []string{"sh", "-c", script}, Autostart: true}
}

// memSink records history events.
type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *memSink) Recent(_ context.Context, name string, limit int) ([]history.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].Name == name {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func fastOpts() Options {
	return Options{Process: process.Options{GracePeriod: 500 * time.Millisecond, PollInterval: 10 * time.Millisecond, PortFallback: process.PortFallbackNever}}
}

func TestNewPreservesOrderAndLookup(t *testing.T) {
	m, err := New([]process.Spec{sh("b", "true"), sh("a", "true"), sh("c", "true")}, fastOpts())
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	names := []string{}
	for _, s := range m.Supervisors() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Equal(t, "a", m.At(1).Name())
	assert.Nil(t, m.At(3))
	assert.Nil(t, m.At(-1))

	s, err := m.Get("c")
	require.NoError(t, err)
	assert.Equal(t, "c", s.Name())

	_, err = m.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(m.Start("nope"), ErrNotFound))
	assert.True(t, errors.Is(m.Stop("nope"), ErrNotFound))
	assert.True(t, errors.Is(m.Restart("nope"), ErrNotFound))
}

func TestNewRejectsBadNames(t *testing.T) {
	_, err := New([]process.Spec{sh("a", "true"), sh("a", "true")}, fastOpts())
	assert.True(t, errors.Is(err, ErrDuplicateName))

	_, err = New([]process.Spec{sh("", "true")}, fastOpts())
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestStartAllHonorsAutostartAndStopAll(t *testing.T) {
	requireUnix(t)
	manual := sh("manual", "sleep 30")
	manual.Autostart = false
	m, err := New([]process.Spec{sh("one", "sleep 30"), manual, sh("two", "sleep 30")}, fastOpts())
	require.NoError(t, err)
	defer m.Close()

	m.StartAll()
	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, process.StatusRunning, snaps[0].Status)
	assert.Equal(t, process.StatusStopped, snaps[1].Status)
	assert.Equal(t, process.StatusRunning, snaps[2].Status)

	begin := time.Now()
	m.StopAll()
	// concurrent stops finish within roughly one grace window
	assert.Less(t, time.Since(begin), 2*time.Second)
	for _, s := range m.Supervisors() {
		assert.Zero(t, s.PID(), "%s still held", s.Name())
	}
	assert.Equal(t, "Stopped gracefully", m.At(0).Status())
	assert.Equal(t, process.StatusStopped, m.At(1).Status())
}

func TestEventsReachHistoryAndObserver(t *testing.T) {
	requireUnix(t)
	sink := &memSink{}
	rec := history.NewRecorder(nil, sink)

	var mu sync.Mutex
	var seen []process.EventType
	opts := fastOpts()
	opts.History = rec
	opts.HistoryReader = sink
	opts.OnEvent = func(e process.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}

	m, err := New([]process.Spec{sh("svc", "sleep 30")}, opts)
	require.NoError(t, err)
	require.NoError(t, m.Start("svc"))
	require.NoError(t, m.Stop("svc"))
	m.Close()
	require.NoError(t, rec.Close())

	assert.Equal(t, []string{"start", "stopped"}, sink.types())
	mu.Lock()
	assert.Equal(t, []process.EventType{process.EventStart, process.EventStopped}, seen)
	mu.Unlock()

	evs, err := m.History(context.Background(), "svc", 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "stopped", evs[0].Type)

	_, err = m.History(context.Background(), "missing", 10)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHistoryWithoutReader(t *testing.T) {
	m, err := New([]process.Spec{sh("a", "true")}, fastOpts())
	require.NoError(t, err)
	_, err = m.History(context.Background(), "a", 5)
	assert.True(t, errors.Is(err, ErrNoHistory))
}

func TestSharedEnvApplied(t *testing.T) {
	requireUnix(t)
	opts := fastOpts()
	opts.Env = env.FromMap(map[string]string{"GREETING": "hello", "TARGET": "world"})
	spec := sh("env", `echo "$GREETING $TARGET"`)
	spec.Env = []string{"TARGET=procdash"}

	m, err := New([]process.Spec{spec}, opts)
	require.NoError(t, err)
	defer m.Close()

	s := m.At(0)
	assert.Equal(t, []string{"GREETING=hello", "TARGET=procdash"}, s.Spec().Env)
	s.Start()
	require.Eventually(t, func() bool {
		for _, l := range s.Logs() {
			if l == "hello procdash" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLogLinesBound(t *testing.T) {
	opts := fastOpts()
	opts.LogLines = 7
	m, err := New([]process.Spec{sh("a", "true")}, opts)
	require.NoError(t, err)
	assert.Equal(t, 7, m.At(0).Buffer().Max())
}

func TestCloseIsIdempotent(t *testing.T) {
	requireUnix(t)
	m, err := New([]process.Spec{sh("a", "sleep 30")}, fastOpts())
	require.NoError(t, err)
	m.StartAll()
	m.Close()
	m.Close()
	assert.Zero(t, m.At(0).PID())
}
