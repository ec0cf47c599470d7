package process

import "time"

// EventType names a lifecycle transition of a supervised process.
type EventType string

const (
	EventStart       EventType = "start"
	EventSpawnFailed EventType = "spawn_failed"
	EventExited      EventType = "exited"       // exited on its own, observed by Status
	EventStopped     EventType = "stopped"      // exited within the grace window after SIGTERM
	EventForceKilled EventType = "force_killed" // SIGKILL after the grace window
	EventPortKilled  EventType = "port_killed"  // listener on the configured port killed
)

// Event describes one lifecycle transition. PID is the child pid, or for
// EventPortKilled the pid found on Port.
type Event struct {
	Type       EventType   `json:"type"`
	Name       string      `json:"name"`
	PID        int         `json:"pid,omitempty"`
	Port       uint16      `json:"port,omitempty"`
	Exit       *ExitStatus `json:"exit,omitempty"`
	Err        string      `json:"error,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventHandler receives lifecycle events. It is called synchronously from
// the goroutine performing the transition and never with a supervisor lock
// held.
type EventHandler func(Event)
