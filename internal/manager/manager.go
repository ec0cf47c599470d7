package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/procdash/internal/env"
	"github.com/loykin/procdash/internal/history"
	"github.com/loykin/procdash/internal/logbuf"
	"github.com/loykin/procdash/internal/metrics"
	"github.com/loykin/procdash/internal/process"
)

var (
	ErrNotFound      = errors.New("process not found")
	ErrDuplicateName = errors.New("duplicate process name")
	ErrEmptyName     = errors.New("process name must not be empty")
	ErrNoHistory     = errors.New("history is not queryable")
)

// Options configure every supervisor the Manager creates.
type Options struct {
	// Process is the template for each supervisor. Buffer and OnEvent are
	// set per supervisor and ignored here.
	Process  process.Options
	LogLines int

	// Env supplies variables shared by all processes; nil passes the
	// per-process env through unchanged.
	Env *env.Env

	History       *history.Recorder
	HistoryReader history.Reader

	// OnEvent, if set, observes every lifecycle event after metrics and
	// history have been updated.
	OnEvent process.EventHandler
	Logger  *slog.Logger
}

// Manager is the ordered registry of supervisors, one per configured process.
// The set of processes is fixed at construction.
type Manager struct {
	sups   []*process.Supervisor
	byName map[string]*process.Supervisor
	opts   Options
	log    *slog.Logger

	closeOnce sync.Once
}

// New builds one supervisor per spec, preserving order. Names must be
// non-empty and unique. Nothing is started.
func New(specs []process.Spec, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		byName: make(map[string]*process.Supervisor, len(specs)),
		opts:   opts,
		log:    opts.Logger,
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, ErrEmptyName
		}
		if _, dup := m.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
		}
		if opts.Env != nil {
			spec.Env = opts.Env.Overrides(spec.Env)
		}
		po := opts.Process
		po.Buffer = logbuf.New(opts.LogLines)
		po.OnEvent = m.handleEvent
		if po.Logger == nil {
			po.Logger = opts.Logger
		}
		s := process.New(spec, po)
		m.sups = append(m.sups, s)
		m.byName[spec.Name] = s
	}
	return m, nil
}

func (m *Manager) Supervisors() []*process.Supervisor {
	return append([]*process.Supervisor(nil), m.sups...)
}

func (m *Manager) Len() int { return len(m.sups) }

// At returns the supervisor at position i in configuration order.
func (m *Manager) At(i int) *process.Supervisor {
	if i < 0 || i >= len(m.sups) {
		return nil
	}
	return m.sups[i]
}

func (m *Manager) Get(name string) (*process.Supervisor, error) {
	s, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

func (m *Manager) Start(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.Start()
	return nil
}

func (m *Manager) Stop(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

func (m *Manager) Restart(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.Restart()
	return nil
}

// StartAll starts every autostart process in configuration order.
func (m *Manager) StartAll() {
	for _, s := range m.sups {
		if s.Spec().Autostart {
			s.Start()
		}
	}
}

// StopAll stops every process concurrently and waits for all of them, so
// shutdown takes about one grace window rather than one per process.
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, s := range m.sups {
		wg.Add(1)
		go func(s *process.Supervisor) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Close stops all processes once. Further calls are no-ops.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.log.Info("stopping all processes", "count", len(m.sups))
		m.StopAll()
	})
}

func (m *Manager) Snapshots() []process.Info {
	out := make([]process.Info, 0, len(m.sups))
	for _, s := range m.sups {
		out = append(out, s.Snapshot())
	}
	return out
}

// UsageSamples implements metrics.UsageSource.
func (m *Manager) UsageSamples() []metrics.UsageSample {
	var out []metrics.UsageSample
	for _, s := range m.sups {
		if u, ok := s.Usage(); ok {
			out = append(out, metrics.UsageSample{Name: s.Name(), CPUPercent: u.CPUPercent, RSSBytes: u.RSSBytes, Threads: u.Threads})
		}
	}
	return out
}

// History returns recorded lifecycle events for name, newest first.
func (m *Manager) History(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if _, err := m.Get(name); err != nil {
		return nil, err
	}
	if m.opts.HistoryReader == nil {
		return nil, ErrNoHistory
	}
	return m.opts.HistoryReader.Recent(ctx, name, limit)
}

func (m *Manager) handleEvent(e process.Event) {
	switch e.Type {
	case process.EventStart:
		metrics.IncStart(e.Name)
	case process.EventSpawnFailed:
		metrics.IncSpawnFailure(e.Name)
	case process.EventExited:
		metrics.IncExit(e.Name)
	case process.EventStopped:
		metrics.IncStop(e.Name, metrics.StopGraceful)
	case process.EventForceKilled:
		metrics.IncStop(e.Name, metrics.StopForced)
	case process.EventPortKilled:
		metrics.IncPortKill(e.Name)
	}
	if m.opts.History != nil {
		m.opts.History.Record(history.FromProcess(e))
	}
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(e)
	}
}
