package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a settable clock for tests and dry runs.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location

	// SyncResult is what the next TrySyncFromNetwork returns; when true the
	// clock jumps to SyncTo.
	SyncResult bool
	SyncTo     time.Time
	SyncCalls  int
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start, loc: start.Location()}
}

func (f *Fake) Now() Timestamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FromTime(f.now)
}

func (f *Fake) Set(ts Timestamp) error {
	f.mu.Lock()
	f.now = ts.Time(f.loc)
	f.mu.Unlock()
	return nil
}

// SetTime jumps the clock to t.
func (f *Fake) SetTime(t time.Time) {
	f.mu.Lock()
	f.now = t.In(f.loc)
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) TrySyncFromNetwork(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncCalls++
	if ctx.Err() != nil || !f.SyncResult {
		return false
	}
	f.now = f.SyncTo.In(f.loc)
	return true
}
