// Package override implements the manual-play lock that keeps automatic
// rings quiet while an operator is using the speakers.
package override

import "time"

// Lock is a timed suppression window. It is not safe for concurrent use;
// the engine serializes access.
type Lock struct {
	now       func() time.Time
	active    bool
	expiresAt time.Time
}

// New returns an inactive lock. now must return monotonic readings
// (time.Now does); nil means time.Now.
func New(now func() time.Time) *Lock {
	if now == nil {
		now = time.Now
	}
	return &Lock{now: now}
}

// Activate (re)starts the window; repeated calls extend it from the latest call.
func (l *Lock) Activate(d time.Duration) {
	l.active = true
	l.expiresAt = l.now().Add(d)
}

// IsActive reports whether the window is open, clearing it once expired.
func (l *Lock) IsActive() bool {
	if !l.active {
		return false
	}
	if !l.now().Before(l.expiresAt) {
		l.active = false
		return false
	}
	return true
}

// Remaining is the time left in the window, or zero when inactive.
func (l *Lock) Remaining() time.Duration {
	if !l.IsActive() {
		return 0
	}
	return l.expiresAt.Sub(l.now())
}

// ExpiresAt is the end of the current window, or zero when inactive.
func (l *Lock) ExpiresAt() time.Time {
	if !l.IsActive() {
		return time.Time{}
	}
	return l.expiresAt
}
