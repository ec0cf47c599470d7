package portresolve

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"runtime"
	"testing"

	gnet "github.com/shirou/gopsutil/v4/net"
)

const ssOutput = `LISTEN 0      4096       127.0.0.53%lo:53         0.0.0.0:*    users:(("systemd-resolve",pid=611,fd=14))
LISTEN 0      511          0.0.0.0:80801      0.0.0.0:*    users:(("decoy",pid=999,fd=6))
LISTEN 0      511          0.0.0.0:8080       0.0.0.0:*    users:(("node",pid=4242,fd=22))
LISTEN 0      511             [::]:8080          [::]:*    users:(("node",pid=4243,fd=23))
LISTEN 0      128                *:9000             *:*
`

func TestParseTableFirstMatch(t *testing.T) {
	pid, ok := ParseTable(ssOutput, 8080, "pid=")
	if !ok || pid != 4242 {
		t.Fatalf("expected first match 4242, got %d ok=%v", pid, ok)
	}
}

func TestParseTablePortIsNotPrefixMatched(t *testing.T) {
	if pid, ok := ParseTable(ssOutput, 8080, ""); !ok || pid == 999 {
		t.Fatalf(":80801 must not match port 8080, got %d", pid)
	}
	if _, ok := ParseTable(ssOutput, 808, ""); ok {
		t.Fatalf("port 808 must not match :8080 or :80801")
	}
}

func TestParseTableMissing(t *testing.T) {
	if _, ok := ParseTable(ssOutput, 3000, "pid="); ok {
		t.Fatalf("expected no match for unused port")
	}
	// line matches port but carries no pid (e.g. socket owned by another user)
	if _, ok := ParseTable(ssOutput, 9000, "pid="); ok {
		t.Fatalf("expected no match when pid marker absent")
	}
	if _, ok := ParseTable("", 8080, "pid="); ok {
		t.Fatalf("expected no match for empty table")
	}
	if _, ok := ParseTable(`LISTEN 0 1 0.0.0.0:8080 0.0.0.0:* users:(("x",pid=abc,fd=1))`, 8080, "pid="); ok {
		t.Fatalf("expected no match for non-numeric pid")
	}
}

func TestSocketTableResolveUsesRunner(t *testing.T) {
	var gotName string
	var gotArgs []string
	st := &SocketTable{
		Command: []string{"ss", "-ltnpH"},
		Marker:  "pid=",
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return []byte(ssOutput), nil
		},
	}
	pid, ok := st.Resolve(context.Background(), 53)
	if !ok || pid != 611 {
		t.Fatalf("expected 611, got %d ok=%v", pid, ok)
	}
	if gotName != "ss" || len(gotArgs) != 1 || gotArgs[0] != "-ltnpH" {
		t.Fatalf("unexpected invocation %s %v", gotName, gotArgs)
	}
}

func TestSocketTableResolveErrors(t *testing.T) {
	st := &SocketTable{
		Command: []string{"ss"},
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("exec: not found")
		},
	}
	if _, ok := st.Resolve(context.Background(), 8080); ok {
		t.Fatalf("runner error must resolve to no result")
	}
	if _, ok := st.Resolve(context.Background(), 0); ok {
		t.Fatalf("port 0 must resolve to no result")
	}
}

func TestProcResolve(t *testing.T) {
	p := &Proc{list: func(context.Context) ([]gnet.ConnectionStat, error) {
		return []gnet.ConnectionStat{
			{Status: "ESTABLISHED", Laddr: gnet.Addr{Port: 8080}, Pid: 1},
			{Status: "LISTEN", Laddr: gnet.Addr{Port: 8080}, Pid: 0},
			{Status: "LISTEN", Laddr: gnet.Addr{Port: 8080}, Pid: 77},
		}, nil
	}}
	pid, ok := p.Resolve(context.Background(), 8080)
	if !ok || pid != 77 {
		t.Fatalf("expected 77, got %d ok=%v", pid, ok)
	}
	if _, ok := p.Resolve(context.Background(), 9090); ok {
		t.Fatalf("expected no listener on 9090")
	}
	failing := &Proc{list: func(context.Context) ([]gnet.ConnectionStat, error) {
		return nil, errors.New("permission denied")
	}}
	if _, ok := failing.Resolve(context.Background(), 8080); ok {
		t.Fatalf("list error must resolve to no result")
	}
}

func TestNewKinds(t *testing.T) {
	for _, k := range []string{"", "ss", "SS", "proc"} {
		if _, err := New(k); err != nil {
			t.Fatalf("New(%q): %v", k, err)
		}
	}
	if _, err := New("netstat"); err == nil {
		t.Fatalf("expected error for unknown resolver kind")
	}
}

func TestSSResolvesOwnListener(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ss is Linux only")
	}
	if _, err := exec.LookPath("ss"); err != nil {
		t.Skip("ss not installed")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	pid, ok := NewSS().Resolve(context.Background(), port)
	if !ok {
		t.Skip("ss did not report process info (restricted environment)")
	}
	if pid != os.Getpid() {
		t.Fatalf("expected own pid %d, got %d", os.Getpid(), pid)
	}
}
