package playback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	logx "schoolbell/pkg/logx"
)

const DefaultCommandTimeout = 2 * time.Second

// Guarded bounds every command with a timeout and wraps failures in
// ErrDeviceUnavailable.
type Guarded struct {
	next    Port
	timeout time.Duration
	log     logx.Logger

	ok   atomic.Uint64
	fail atomic.Uint64
}

func NewGuarded(next Port, timeout time.Duration, log logx.Logger) *Guarded {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Guarded{next: next, timeout: timeout, log: log}
}

func (g *Guarded) Play(ctx context.Context, track int) error {
	return g.do(ctx, "play", func(ctx context.Context) error { return g.next.Play(ctx, track) })
}

func (g *Guarded) Stop(ctx context.Context) error {
	return g.do(ctx, "stop", g.next.Stop)
}

func (g *Guarded) SetVolume(ctx context.Context, level int) error {
	return g.do(ctx, "volume", func(ctx context.Context) error { return g.next.SetVolume(ctx, level) })
}

// Stats returns the success and failure counts so far.
func (g *Guarded) Stats() (ok, fail uint64) {
	return g.ok.Load(), g.fail.Load()
}

func (g *Guarded) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Backends such as the mpd client do not take a context, so the call
	// runs aside and is abandoned on timeout.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		g.fail.Add(1)
		g.log.Debug("playback command failed", logx.String("op", op), logx.Err(err))
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, op, err)
	}
	g.ok.Add(1)
	return nil
}
