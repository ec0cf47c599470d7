package process

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/procdash/internal/logbuf"
	"github.com/loykin/procdash/internal/portresolve"
)

const (
	DefaultGracePeriod  = time.Second
	DefaultPollInterval = 25 * time.Millisecond
)

// PortFallback controls when Stop kills whatever listens on the configured port.
type PortFallback string

const (
	// PortFallbackAlways runs the port kill after every stop sequence.
	PortFallbackAlways PortFallback = "always"
	// PortFallbackOnFailure runs it only when no owned child was reaped.
	PortFallbackOnFailure PortFallback = "on_failure"
	PortFallbackNever     PortFallback = "never"
)

func ParsePortFallback(s string) (PortFallback, error) {
	switch PortFallback(strings.ToLower(strings.TrimSpace(s))) {
	case "", PortFallbackAlways:
		return PortFallbackAlways, nil
	case PortFallbackOnFailure:
		return PortFallbackOnFailure, nil
	case PortFallbackNever:
		return PortFallbackNever, nil
	default:
		return "", fmt.Errorf("invalid port_fallback %q, must be one of: always, on_failure, never", s)
	}
}

// Options tune a Supervisor. Zero values select the defaults.
type Options struct {
	GracePeriod  time.Duration
	PollInterval time.Duration
	PortFallback PortFallback
	Resolver     portresolve.Resolver // nil disables the port fallback
	Buffer       *logbuf.Buffer       // nil allocates logbuf.DefaultMaxLines
	OnEvent      EventHandler
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PortFallback == "" {
		o.PortFallback = PortFallbackAlways
	}
	if o.Buffer == nil {
		o.Buffer = logbuf.New(logbuf.DefaultMaxLines)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
