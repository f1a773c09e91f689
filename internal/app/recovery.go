package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
	"schoolbell/pkg/systemdmanager"
)

const recoveryCooldown = time.Minute

// unitManager is the part of systemdmanager.UnitManager recovery needs.
type unitManager interface {
	Status(ctx context.Context, unit string) (systemdmanager.UnitStatus, error)
	Restart(ctx context.Context, unit string) error
}

// unitRecovery restarts the player's systemd unit after a failed playback
// command finds it down. Restarts are limited to one per cooldown.
type unitRecovery struct {
	unit    string
	mgr     unitManager
	limiter *rate.Limiter
	log     logx.Logger
	timeout time.Duration
}

func newUnitRecovery(unit string, mgr unitManager, cooldown time.Duration, log logx.Logger) *unitRecovery {
	if cooldown <= 0 {
		cooldown = recoveryCooldown
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &unitRecovery{
		unit:    systemdmanager.UnitName(unit),
		mgr:     mgr,
		limiter: rate.NewLimiter(rate.Every(cooldown), 1),
		log:     log.With(logx.String("comp", "recovery"), logx.String("unit", systemdmanager.UnitName(unit))),
		timeout: 10 * time.Second,
	}
}

func (r *unitRecovery) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type == eventbus.TypePlaybackFailed {
				r.handle(ctx)
			}
		}
	}
}

// handle reports whether a restart was issued.
func (r *unitRecovery) handle(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	st, err := r.mgr.Status(ctx, r.unit)
	if err != nil {
		r.log.Warn("unit status failed", logx.Err(err))
		return false
	}
	if !st.Exists() {
		r.log.Warn("unit not found")
		return false
	}
	if st.Running() {
		return false
	}
	if !r.limiter.Allow() {
		r.log.Debug("restart suppressed by cooldown", logx.String("state", st.Active))
		return false
	}
	r.log.Warn("unit down; restarting", logx.String("state", st.Active), logx.String("sub", st.SubState))
	if err := r.mgr.Restart(ctx, r.unit); err != nil {
		r.log.Error("unit restart failed", logx.Err(err))
		return false
	}
	return true
}
