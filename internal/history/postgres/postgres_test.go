package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/procdash/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	if err := sink.Send(ctx, history.Event{Type: "start", Name: "web", PID: 12345, Port: 8080, OccurredAt: now}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	if err := sink.Send(ctx, history.Event{Type: "force_killed", Name: "web", PID: 12345, Exit: "signal killed", OccurredAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	got, err := sink.Recent(ctx, "web", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events in history, got %d", len(got))
	}
	if got[0].Type != "force_killed" || got[0].Exit != "signal killed" || got[0].Port != 0 {
		t.Errorf("unexpected newest row: %+v", got[0])
	}
	if got[1].Port != 8080 {
		t.Errorf("unexpected start row: %+v", got[1])
	}
}

func TestNewEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

var _ history.Reader = (*Sink)(nil)
