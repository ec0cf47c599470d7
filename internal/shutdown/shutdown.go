// Package shutdown holds the process-wide "please exit" flag. Signal
// handlers and the quit confirmation set it; the dashboard loop polls it.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Flag is a one-way latch: once requested it stays requested.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Request sets the flag. Safe to call from any goroutine, any number of times.
func (f *Flag) Request() {
	f.set.Store(true)
	f.once.Do(func() { close(f.done) })
}

// Requested reports whether Request has been called.
func (f *Flag) Requested() bool { return f.set.Load() }

// Done is closed on the first Request.
func (f *Flag) Done() <-chan struct{} { return f.done }

// Signals are the signals that request shutdown.
var Signals = []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP}

// Notify requests shutdown when one of Signals arrives. The returned stop
// function releases the signal handler; it is also released when ctx ends.
func (f *Flag) Notify(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, Signals...)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			f.Request()
		case <-ctx.Done():
		}
	}()
	return cancel
}
