package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/procdash/internal/history"
)

func TestToken(t *testing.T) {
	cases := map[string]string{"web": "web", "api.v2": "api_v2", "a b*c>": "a_b_c_", "": "_", "x-y_z9": "x-y_z9"}
	for in, want := range cases {
		if got := token(in); got != want {
			t.Fatalf("token(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewInvalidSubject(t *testing.T) {
	if _, err := New("nats://127.0.0.1:4222", "bad.*", nil); err == nil {
		t.Fatal("expected wildcard subject to be rejected")
	}
}

func TestNewConnectionError(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping connection test in short mode")
	}
	if _, err := New("nats://127.0.0.1:1", "", nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNATSSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("NATS container unavailable: %v", err)
	}
	defer func() { _ = c.Terminate(ctx) }()

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatal(err)
	}
	url := "nats://" + host + ":" + port.Port()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()
	ch, err := sub.SubscribeSync("test.history.>")
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	sink, err := New(url, "test.history", nil)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ev := history.Event{Type: "start", Name: "web", PID: 42, Port: 3000, OccurredAt: time.Now().UTC()}
	if err := sink.Send(ctx, ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := ch.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("no message: %v", err)
	}
	if msg.Subject != "test.history.web" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	var got history.Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "start" || got.PID != 42 || got.Port != 3000 {
		t.Fatalf("unexpected event: %+v", got)
	}
}
