package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"schoolbell/internal/engine"
	logx "schoolbell/pkg/logx"
)

const (
	DefaultTickInterval = 250 * time.Millisecond
	DefaultSpin         = 50 * time.Millisecond
)

// Ticker is the engine surface the loop drives.
type Ticker interface {
	Tick(ctx context.Context) engine.TickResult
}

// Loop spins at a fixed cadence and forwards gated ticks to the engine.
type Loop struct {
	eng  Ticker
	gate *Gate
	spin time.Duration
	now  func() time.Time
	log  logx.Logger

	lastTick atomic.Int64 // unix nano
	ticks    atomic.Uint64
}

func NewLoop(eng Ticker, tick, spin time.Duration, log logx.Logger) *Loop {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if spin <= 0 {
		spin = DefaultSpin
	}
	return &Loop{eng: eng, gate: NewGate(tick), spin: spin, now: time.Now, log: log}
}

// Step runs one spin iteration at now and reports whether the engine was
// ticked.
func (l *Loop) Step(ctx context.Context, now time.Time) bool {
	if !l.gate.Allow(now) {
		return false
	}
	res := l.eng.Tick(ctx)
	l.lastTick.Store(now.UnixNano())
	l.ticks.Add(1)
	if len(res.Fired) > 0 || res.Skipped > 0 {
		l.log.Debug("tick",
			logx.String("at", res.At.String()),
			logx.Int("fired", len(res.Fired)),
			logx.Int("skipped", res.Skipped),
		)
	}
	return true
}

// Run spins until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTicker(l.spin)
	defer t.Stop()
	l.Step(ctx, l.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			l.Step(ctx, l.now())
		}
	}
}

// LastTick is when the engine was last ticked, zero before the first tick.
func (l *Loop) LastTick() time.Time {
	n := l.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (l *Loop) Ticks() uint64 { return l.ticks.Load() }
