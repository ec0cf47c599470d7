package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestRequestLatches(t *testing.T) {
	f := New()
	assert.False(t, f.Requested())
	select {
	case <-f.Done():
		t.Fatal("done closed before request")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Request()
		}()
	}
	wg.Wait()

	assert.True(t, f.Requested())
	select {
	case <-f.Done():
	default:
		t.Fatal("done not closed after request")
	}
}

func TestNotifyOnSignal(t *testing.T) {
	f := New()
	stop := f.Notify(context.Background())
	defer stop()

	if err := unix.Kill(unix.Getpid(), unix.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not request shutdown")
	}
	assert.True(t, f.Requested())
}

func TestNotifyCancelDoesNotRequest(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	stop := f.Notify(ctx)
	cancel()
	stop()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.Requested())
}
