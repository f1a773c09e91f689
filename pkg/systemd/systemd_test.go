package systemd

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "schoolbell/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(enabled bool, every time.Duration) (*Notifier, *recorder) {
	r := &recorder{}
	n := New(enabled, logx.Nop())
	n.notify = r.notify
	n.interval = func() (time.Duration, error) { return every, nil }
	return n, r
}

func TestReadyStopping(t *testing.T) {
	t.Parallel()
	n, r := newTestNotifier(true, 0)
	if !n.Ready() || !n.Stopping() || !n.Status("ringing") {
		t.Fatal("expected notifications to be sent")
	}
	if r.count("READY=1") != 1 || r.count("STOPPING=1") != 1 || r.count("STATUS=ringing") != 1 {
		t.Fatalf("states = %v", r.states)
	}

	off, r2 := newTestNotifier(false, 0)
	if off.Ready() {
		t.Fatal("disabled notifier sent READY")
	}
	if len(r2.states) != 0 {
		t.Fatalf("states = %v", r2.states)
	}
}

func TestWatchdogWithheldWhileStale(t *testing.T) {
	t.Parallel()
	n, r := newTestNotifier(true, 20*time.Millisecond)
	var alive atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Watchdog(ctx, alive.Load)
	}()

	time.Sleep(80 * time.Millisecond)
	if got := r.count("WATCHDOG=1"); got != 0 {
		t.Fatalf("pinged %d times while stale", got)
	}
	alive.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for r.count("WATCHDOG=1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if r.count("WATCHDOG=1") == 0 {
		t.Fatal("no watchdog ping after recovery")
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Parallel()
	n, _ := newTestNotifier(true, 0)
	if err := n.Watchdog(context.Background(), func() bool { return true }); err != nil {
		t.Fatal(err)
	}
}
