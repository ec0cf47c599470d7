package client

import "time"

// ProcessStatus is one process as reported by the API.
type ProcessStatus struct {
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

// ExitStatus is the last recorded exit. Code is -1 when Signal is set.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// Logs is the captured output of one process.
type Logs struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
	Max   int      `json:"max"`
}

// HistoryEvent is a recorded lifecycle transition.
type HistoryEvent struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Port       int       `json:"port,omitempty"`
	Exit       string    `json:"exit,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
