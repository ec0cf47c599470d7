package tui

import (
	"sort"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings for the dashboard.
type KeyMap struct {
	Up        key.Binding
	Down      key.Binding
	Start     key.Binding
	Stop      key.Binding
	Restart   key.Binding
	Logs      key.Binding
	Back      key.Binding
	Copy      key.Binding
	Quit      key.Binding
	Confirm   key.Binding
	Cancel    key.Binding
	ForceQuit key.Binding
}

// DefaultKeyMap returns a KeyMap with default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "Up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "Down"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "Start"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "Stop"),
		),
		Restart: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Restart"),
		),
		Logs: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "View Logs"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Back"),
		),
		Copy: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "Copy Logs"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "Quit"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "Yes"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n/esc", "No"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "Exit now"),
		),
	}
}

// ListHelp returns the list view bindings sorted by label.
func (k KeyMap) ListHelp() []key.Binding {
	return sortedByLabel([]key.Binding{k.Up, k.Down, k.Start, k.Stop, k.Restart, k.Logs, k.Copy, k.Quit})
}

// LogsHelp returns the log view bindings sorted by label.
func (k KeyMap) LogsHelp() []key.Binding {
	return sortedByLabel([]key.Binding{k.Up, k.Down, k.Back, k.Copy, k.Quit})
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding { return k.ListHelp() }

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Logs, k.Back},
		{k.Start, k.Stop, k.Restart, k.Copy},
		{k.Quit, k.ForceQuit},
	}
}

func sortedByLabel(bs []key.Binding) []key.Binding {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Help().Desc < bs[j].Help().Desc })
	return bs
}
