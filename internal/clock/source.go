// Package clock provides the time sources consulted by the trigger engine.
//
// The persistent clock is the source of truth. Network time is a best-effort
// correction: a failed lookup never blocks scheduling, it only leaves the
// clock as it was.
package clock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the persistent clock could not be initialized.
	ErrUnavailable = errors.New("clock unavailable")
	// ErrImplausibleTime rejects network readings older than the known-good cutoff.
	ErrImplausibleTime = errors.New("implausible network time")
	// ErrSyncTimeout is returned when the network lookup exceeds its budget.
	ErrSyncTimeout = errors.New("network time lookup timed out")
)

// DefaultMinValidEpoch is the known-good cutoff (2023-11-14T22:13:20Z).
// Network readings before it are treated as garbage.
const DefaultMinValidEpoch int64 = 1700000000

// Source is what the engine needs from a clock.
type Source interface {
	Now() Timestamp
	Set(ts Timestamp) error
	// TrySyncFromNetwork makes one bounded attempt to correct the clock.
	// It reports whether the clock was updated.
	TrySyncFromNetwork(ctx context.Context) bool
}

// SyncStatus describes the last network correction attempts.
type SyncStatus struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   string
}

// StatusReporter is implemented by sources that track sync attempts.
type StatusReporter interface {
	SyncStatus() SyncStatus
}
