package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/engine"
	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   eventbus.Event
		want string
	}{
		{
			eventbus.Event{Type: eventbus.TypeBellFired, Data: eventbus.BellData{Track: 3, Label: "Lunch", Clock: "2025-03-03 12:00:00"}},
			"Bell: Lunch track=3 at 2025-03-03 12:00:00",
		},
		{
			eventbus.Event{Type: eventbus.TypeManualPlay, Data: eventbus.BellData{Track: 42, Clock: "2025-03-03 12:01:05"}},
			"Manual play: track=42 at 2025-03-03 12:01:05",
		},
		{eventbus.Event{Type: eventbus.TypeVolumeChanged, Data: eventbus.VolumeData{Requested: 99, Applied: 30}}, "Volume set to 30 (requested 99)"},
		{eventbus.Event{Type: eventbus.TypeVolumeChanged, Data: eventbus.VolumeData{Requested: 10, Applied: 10}}, "Volume set to 10"},
		{eventbus.Event{Type: eventbus.TypePlaybackFailed, Data: eventbus.FailureData{Op: "play", Track: 5, Err: "timeout"}}, "Playback play failed for track=5: timeout"},
		{eventbus.Event{Type: eventbus.TypeManualStop}, "Playback stopped"},
		{eventbus.Event{Type: eventbus.TypeClockSynced, Data: "2025-03-03 07:00:00"}, "Clock synced from network: 2025-03-03 07:00:00"},
		{eventbus.Event{Type: "other"}, "other"},
	}
	for _, tt := range tests {
		if got := Format(tt.ev); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.ev.Type, got, tt.want)
		}
	}
}

func TestHandleFilterAndRate(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	n := New(Config{Events: []string{eventbus.TypeBellFired}, RatePerMin: 1, Burst: 2}, s, logx.Nop())

	ctx := context.Background()
	fired := eventbus.Event{Type: eventbus.TypeBellFired, Data: eventbus.BellData{Track: 1, Clock: "x"}}
	if n.Handle(ctx, eventbus.Event{Type: eventbus.TypeManualStop}) {
		t.Fatal("filtered event was sent")
	}
	for range 3 {
		n.Handle(ctx, fired)
	}
	if got := len(s.got()); got != 2 {
		t.Fatalf("sent %d, want burst of 2", got)
	}
	sent, dropped, failed := n.Stats()
	if sent != 2 || dropped != 1 || failed != 0 {
		t.Fatalf("stats = %d/%d/%d", sent, dropped, failed)
	}

	// Widening the filter takes effect without a restart.
	n.Apply(Config{RatePerMin: 60, Burst: 5})
	if !n.Handle(ctx, eventbus.Event{Type: eventbus.TypeManualStop}) {
		t.Fatal("stop not forwarded after Apply")
	}
}

func TestHandleSendFailure(t *testing.T) {
	t.Parallel()
	s := &fakeSender{err: errors.New("telegram down")}
	n := New(Config{}, s, logx.Nop())
	if !n.Handle(context.Background(), eventbus.Event{Type: eventbus.TypeManualStop}) {
		t.Fatal("send not attempted")
	}
	if _, _, failed := n.Stats(); failed != 1 {
		t.Fatalf("failed = %d", failed)
	}
}

func TestRunForwardsFromBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := &fakeSender{}
	n := New(Config{}, s, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.got()) == 0 && time.Now().Before(deadline) {
		// Publish until the subscription is in place.
		bus.Publish(eventbus.Event{Type: eventbus.TypeManualStop})
		time.Sleep(20 * time.Millisecond)
	}
	if got := s.got(); len(got) == 0 || got[0] != "Playback stopped" {
		t.Fatalf("sent = %v", got)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewTelegramRequiresConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "1:x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestStatusAndScheduleText(t *testing.T) {
	t.Parallel()
	snap := engine.Snapshot{
		Time:                clock.FromTime(time.Date(2025, 3, 3, 8, 31, 0, 0, time.UTC)),
		Volume:              20,
		ManualLock:          true,
		ManualLockRemaining: 3 * time.Minute,
	}
	want := "Clock: 2025-03-03 08:31:00\nVolume: 20\nManual lock: until 08:34:00\nLast ring: none"
	if got := StatusText(snap); got != want {
		t.Fatalf("StatusText() = %q", got)
	}

	got := ScheduleText([]bell.Event{{DayFrom: 1, DayTo: 5, Hour: 8, Minute: 30, Track: 1, Label: "Start"}})
	if got != "1. Mon-Fri 08:30 track=1 Start" {
		t.Fatalf("ScheduleText() = %q", got)
	}
	if ScheduleText(nil) != "Schedule is empty" {
		t.Fatal("empty schedule text")
	}
}
