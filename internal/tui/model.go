package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/procdash/internal/process"
	"github.com/loykin/procdash/internal/shutdown"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	statusMessageTTL    = 3 * time.Second
)

type view int

const (
	viewList view = iota
	viewLogs
	viewQuitConfirm
)

// Registry is the ordered set of supervisors shown by the dashboard.
type Registry interface {
	Len() int
	At(i int) *process.Supervisor
}

type Options struct {
	TickInterval time.Duration
	// Clipboard writes text to the system clipboard. Defaults to
	// clipboard.WriteAll.
	Clipboard func(string) error
	Logger    *slog.Logger
}

// Model is the bubbletea model of the dashboard. Lifecycle actions run as
// commands off the UI goroutine; the model only reads supervisor state.
type Model struct {
	reg  Registry
	quit *shutdown.Flag
	opts Options
	keys KeyMap

	view     view
	selected int
	width    int
	height   int

	logs   viewport.Model
	follow bool

	pending map[string]action

	statusMsg    string
	statusErr    bool
	statusCancel chan struct{}

	quitting bool
}

func New(reg Registry, quit *shutdown.Flag, opts Options) *Model {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.WriteAll
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if quit == nil {
		quit = shutdown.New()
	}
	return &Model{
		reg:     reg,
		quit:    quit,
		opts:    opts,
		keys:    DefaultKeyMap(),
		logs:    viewport.New(80, 20),
		follow:  true,
		pending: make(map[string]action),
	}
}

func (m *Model) Init() tea.Cmd { return m.tick() }

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.opts.TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resizeLogs()
		if m.view == viewLogs {
			m.refreshLogs()
		}
		return m, nil

	case tickMsg:
		if m.quit.Requested() {
			m.quitting = true
			return m, tea.Quit
		}
		if m.view == viewLogs {
			m.refreshLogs()
		}
		return m, m.tick()

	case actionDoneMsg:
		if m.pending[msg.name] == msg.action {
			delete(m.pending, msg.name)
		}
		return m, nil

	case clearStatusBarMsg:
		m.statusMsg, m.statusErr = "", false
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.quit.Request()
		m.quitting = true
		return m, tea.Quit
	}

	switch m.view {
	case viewList:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.move(-1)
		case key.Matches(msg, m.keys.Down):
			m.move(1)
		case key.Matches(msg, m.keys.Start):
			return m, m.run(actionStart)
		case key.Matches(msg, m.keys.Stop):
			return m, m.run(actionStop)
		case key.Matches(msg, m.keys.Restart):
			return m, m.run(actionRestart)
		case key.Matches(msg, m.keys.Logs):
			if m.current() != nil {
				m.view = viewLogs
				m.follow = true
				m.refreshLogs()
			}
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyLogs()
		case key.Matches(msg, m.keys.Quit):
			m.view = viewQuitConfirm
		}

	case viewLogs:
		switch {
		case key.Matches(msg, m.keys.Back):
			m.view = viewList
			return m, nil
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyLogs()
		case key.Matches(msg, m.keys.Quit):
			m.view = viewQuitConfirm
			return m, nil
		}
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		m.follow = m.logs.AtBottom()
		return m, cmd

	case viewQuitConfirm:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.quit.Request()
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			m.view = viewList
		}
	}
	return m, nil
}

// move changes the selection by delta, wrapping at both ends.
func (m *Model) move(delta int) {
	n := m.reg.Len()
	if n == 0 {
		return
	}
	m.selected = ((m.selected+delta)%n + n) % n
}

func (m *Model) current() *process.Supervisor {
	return m.reg.At(m.selected)
}

// run returns a command performing a on the selected process. Supervisors
// serialize their own lifecycle operations, so concurrent commands for the
// same process queue up rather than interleave.
func (m *Model) run(a action) tea.Cmd {
	s := m.current()
	if s == nil {
		return nil
	}
	name := s.Name()
	m.pending[name] = a
	m.opts.Logger.Debug("dashboard action", "name", name, "action", a.String())
	return func() tea.Msg {
		switch a {
		case actionStart:
			s.Start()
		case actionStop:
			s.Stop()
		case actionRestart:
			s.Restart()
		}
		return actionDoneMsg{name: name, action: a}
	}
}

func (m *Model) copyLogs() tea.Cmd {
	s := m.current()
	if s == nil {
		return nil
	}
	if err := m.opts.Clipboard(strings.Join(s.Logs(), "\n")); err != nil {
		m.opts.Logger.Warn("clipboard write failed", "error", err)
		return m.setStatusMessage(fmt.Sprintf("Failed to copy logs: %v", err), true)
	}
	return m.setStatusMessage(fmt.Sprintf("Copied %s logs to clipboard", s.Name()), false)
}

// setStatusMessage shows message and schedules clearing it. A newer message
// cancels the pending clear of an older one.
func (m *Model) setStatusMessage(message string, isErr bool) tea.Cmd {
	m.statusMsg, m.statusErr = message, isErr
	if m.statusCancel != nil {
		close(m.statusCancel)
	}
	m.statusCancel = make(chan struct{})
	captured := m.statusCancel
	return tea.Tick(statusMessageTTL, func(time.Time) tea.Msg {
		select {
		case <-captured:
			return nil
		default:
			return clearStatusBarMsg{}
		}
	})
}

func (m *Model) resizeLogs() {
	w := m.width - panelStyle.GetHorizontalFrameSize()
	h := m.height - panelStyle.GetVerticalFrameSize() - 2 // title and help rows
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	m.logs.Width, m.logs.Height = w, h
}

func (m *Model) refreshLogs() {
	s := m.current()
	if s == nil {
		return
	}
	m.logs.SetContent(prepareLogContent(s.Logs(), m.logs.Width))
	if m.follow {
		m.logs.GotoBottom()
	}
}

// Quitting reports whether the dashboard has been asked to exit.
func (m *Model) Quitting() bool { return m.quitting }

// Run runs the dashboard until the shutdown flag is set or ctx ends. It does
// not stop any process.
func Run(ctx context.Context, m *Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
