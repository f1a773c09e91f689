package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolbell/internal/playback/otoplayer"
	logx "schoolbell/pkg/logx"
)

type stubPort struct {
	err   error
	delay time.Duration
}

func (s stubPort) Play(ctx context.Context, track int) error { return s.wait(ctx) }
func (s stubPort) Stop(ctx context.Context) error            { return s.wait(ctx) }
func (s stubPort) SetVolume(ctx context.Context, level int) error {
	return s.wait(ctx)
}

func (s stubPort) wait(ctx context.Context) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func TestGuardedWrapsFailures(t *testing.T) {
	t.Parallel()
	g := NewGuarded(stubPort{err: errors.New("uart timeout")}, time.Second, logx.Nop())
	err := g.Play(context.Background(), 1)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if ok, fail := g.Stats(); ok != 0 || fail != 1 {
		t.Fatalf("stats = %d/%d", ok, fail)
	}
}

func TestGuardedTimeout(t *testing.T) {
	t.Parallel()
	g := NewGuarded(stubPort{delay: time.Hour}, 20*time.Millisecond, logx.Nop())
	start := time.Now()
	err := g.Stop(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestGuardedSuccess(t *testing.T) {
	t.Parallel()
	g := NewGuarded(stubPort{}, 0, logx.Nop())
	if err := g.SetVolume(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Stats(); ok != 1 {
		t.Fatalf("ok = %d", ok)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", "MPD"} {
		if _, err := Open(Config{Driver: d}, nil, logx.Nop()); err != nil {
			t.Errorf("Open(%q): %v", d, err)
		}
	}
	_, err := Open(Config{Driver: "oto"}, nil, logx.Nop())
	if otoplayer.Available && err != nil {
		t.Errorf("Open(oto): %v", err)
	}
	if !otoplayer.Available && !errors.Is(err, otoplayer.ErrNotBuilt) {
		t.Errorf("Open(oto) = %v, want ErrNotBuilt", err)
	}
	if _, err := Open(Config{Driver: "dfplayer"}, nil, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}
