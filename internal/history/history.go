package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/procdash/internal/process"
)

// Event is a lifecycle transition as exported to a history sink.
type Event struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Port       int       `json:"port,omitempty"`
	Exit       string    `json:"exit,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromProcess converts a supervisor event.
func FromProcess(e process.Event) Event {
	out := Event{
		Type:       string(e.Type),
		Name:       e.Name,
		PID:        e.PID,
		Port:       int(e.Port),
		Error:      e.Err,
		OccurredAt: e.OccurredAt.UTC(),
	}
	if e.Exit != nil {
		out.Exit = e.Exit.String()
	}
	return out
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

// Recorder fans events out to sinks from a single background goroutine so
// that callers on the UI path never wait on a database. Events arriving
// while the queue is full are dropped and logged.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		log:     log,
		timeout: defaultSendTimeout,
		queue:   make(chan Event, defaultQueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues e for delivery. It never blocks.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.sinks) == 0 {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("history queue full, dropping event", "name", e.Name, "type", e.Type)
	}
}

// Close drains queued events, waits for delivery and closes sinks that
// implement io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()

	var first error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink send failed", "name", e.Name, "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Reader is implemented by sinks that can query what they stored.
type Reader interface {
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}
