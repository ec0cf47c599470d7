package tui

import "time"

// tickMsg drives the periodic refresh and the shutdown flag check.
type tickMsg time.Time

// actionDoneMsg reports that a lifecycle action on a process returned.
type actionDoneMsg struct {
	name   string
	action action
}

type clearStatusBarMsg struct{}

type action int

const (
	actionStart action = iota
	actionStop
	actionRestart
)

func (a action) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionRestart:
		return "restart"
	default:
		return "unknown"
	}
}
