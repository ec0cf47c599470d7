package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loykin/procdash/internal/history"
)

// DefaultSubject prefixes every published event.
const DefaultSubject = "procdash.history"

// Sink publishes each event as JSON on <subject>.<process name>. Names are
// reduced to characters that are valid in a single subject token.
type Sink struct {
	conn    *nats.Conn
	subject string
}

func New(url, subject string, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	subject = strings.Trim(subject, ".")
	if subject == "" {
		subject = DefaultSubject
	}
	if strings.ContainsAny(subject, " \t*>") {
		return nil, fmt.Errorf("invalid nats subject %q", subject)
	}
	conn, err := nats.Connect(url,
		nats.Name("procdash"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Sink{conn: conn, subject: subject}, nil
}

// Subject returns the subject an event for name is published on.
func (s *Sink) Subject(name string) string {
	return s.subject + "." + token(name)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.Subject(e.Name), b); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	if err != nil {
		s.conn.Close()
	}
	return err
}

func token(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
