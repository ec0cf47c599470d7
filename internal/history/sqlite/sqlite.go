package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/procdash/internal/history"
)

// Sink writes history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS process_history(
		timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		pid INTEGER NOT NULL,
		port INTEGER,
		exit TEXT,
		error TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(timestamp, name, type, pid, port, exit, error)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), e.Name, e.Type, e.PID, nullInt(e.Port), nullString(e.Exit), nullString(e.Error))
	return err
}

// Recent returns up to limit events for name, newest first.
func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, name, type, pid, port, exit, error
		FROM process_history WHERE name = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?;`, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e         history.Event
			ts        time.Time
			port      sql.NullInt64
			exit, msg sql.NullString
		)
		if err := rows.Scan(&ts, &e.Name, &e.Type, &e.PID, &port, &exit, &msg); err != nil {
			return nil, err
		}
		e.OccurredAt = ts.UTC()
		e.Port = int(port.Int64)
		e.Exit = exit.String
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(v string) sql.NullString { return sql.NullString{String: v, Valid: v != ""} }
func nullInt(v int) sql.NullInt64        { return sql.NullInt64{Int64: int64(v), Valid: v != 0} }
