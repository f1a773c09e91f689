// Package systemd speaks the sd_notify protocol: readiness, stopping and
// watchdog keep-alives. Outside systemd every call is a silent no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "schoolbell/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled:  enabled,
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

// Watchdog pings at half the unit's WatchdogSec while alive reports true.
// When alive turns false pings stop, so systemd restarts a hung process.
// It returns at once when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context, alive func() bool) error {
	if n == nil || !n.enabled {
		return nil
	}
	every, err := n.interval()
	if err != nil {
		n.log.Warn("watchdog probe failed", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Debug("watchdog enabled", logx.Duration("every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	stale := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !alive() {
				if !stale {
					n.log.Warn("tick loop stale; withholding watchdog ping")
				}
				stale = true
				continue
			}
			if stale {
				n.log.Info("tick loop recovered; resuming watchdog ping")
			}
			stale = false
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
