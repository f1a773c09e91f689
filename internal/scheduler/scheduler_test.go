package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"schoolbell/internal/clock"
	"schoolbell/internal/engine"
	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

type countingTicker struct{ n atomic.Int32 }

func (c *countingTicker) Tick(context.Context) engine.TickResult {
	c.n.Add(1)
	return engine.TickResult{}
}

func TestGateMinimumInterval(t *testing.T) {
	t.Parallel()
	g := NewGate(250 * time.Millisecond)
	base := time.Unix(100, 0)
	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{249 * time.Millisecond, false},
		{250 * time.Millisecond, true},
		{400 * time.Millisecond, false},
		{600 * time.Millisecond, true},
	}
	for _, s := range steps {
		if got := g.Allow(base.Add(s.offset)); got != s.want {
			t.Fatalf("Allow(+%v) = %v, want %v", s.offset, got, s.want)
		}
	}
}

func TestLoopStepGatesTicks(t *testing.T) {
	t.Parallel()
	ct := &countingTicker{}
	l := NewLoop(ct, 250*time.Millisecond, 50*time.Millisecond, logx.Nop())
	base := time.Unix(0, 0)
	ctx := context.Background()

	// One simulated second of 50ms spins yields four ticks.
	for i := 0; i < 20; i++ {
		l.Step(ctx, base.Add(time.Duration(i)*50*time.Millisecond))
	}
	if ct.n.Load() != 4 || l.Ticks() != 4 {
		t.Fatalf("ticks = %d", ct.n.Load())
	}
	if want := base.Add(750 * time.Millisecond); !l.LastTick().Equal(want) {
		t.Fatalf("LastTick = %v, want %v", l.LastTick(), want)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ct := &countingTicker{}
	l := NewLoop(ct, time.Millisecond, time.Millisecond, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ct.n.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("loop did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if l.LastTick().IsZero() {
		t.Fatal("LastTick not recorded")
	}
}

func TestSyncNow(t *testing.T) {
	t.Parallel()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(Config{}, &countingTicker{}, fake, bus, logx.Nop())

	if s.SyncNow(context.Background()) {
		t.Fatal("sync should fail when the network is down")
	}
	if fake.Now().Year != 2020 {
		t.Fatal("clock changed on failed sync")
	}

	fake.SyncResult = true
	fake.SyncTo = time.Date(2025, 9, 1, 7, 0, 0, 0, time.UTC)
	if !s.SyncNow(context.Background()) {
		t.Fatal("sync should succeed")
	}
	if fake.Now().Year != 2025 {
		t.Fatal("clock not corrected")
	}
	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeClockSynced {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no clock.synced event")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{ResyncSpec: "@every 1h", Location: time.UTC}, &countingTicker{}, clock.NewFake(time.Now()), nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if next := s.NextResync(); next.IsZero() || time.Until(next) > time.Hour+time.Second {
		t.Fatalf("NextResync = %v", next)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if !s.NextResync().IsZero() {
		t.Fatal("NextResync after Stop")
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "@hourly", "0 */6 * * *", "30 0 3 * * *"} {
		if err := ValidateSpec(ok); err != nil {
			t.Errorf("ValidateSpec(%q) = %v", ok, err)
		}
	}
	if ValidateSpec("every hour") == nil {
		t.Error("garbage spec accepted")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{ResyncSpec: "nope"}, &countingTicker{}, clock.NewFake(time.Now()), nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
