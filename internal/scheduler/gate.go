// Package scheduler drives the engine: a fast spinning loop, gated to a
// minimum check interval, plus a cron instance for periodic network time
// corrections.
package scheduler

import (
	"sync"
	"time"
)

// Gate lets at most one check through per interval.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	seen bool
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Allow reports whether a check may run at now, and if so records it.
func (g *Gate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen && now.Sub(g.last) < g.interval {
		return false
	}
	g.seen = true
	g.last = now
	return true
}
