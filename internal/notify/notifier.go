// Package notify forwards engine events to an operator chat.
//
// Notifications are best-effort: events over the rate budget are dropped,
// and a failed send is logged and forgotten. Nothing here can stall the
// engine, which only ever publishes to the event bus.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

const (
	DefaultRatePerMin = 20
	DefaultBurst      = 5

	sendTimeout   = 8 * time.Second
	subscribeSize = 64
)

// Sender delivers one formatted line.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config is the hot-reloadable part of the notifier.
type Config struct {
	// Events lists event types to forward; empty forwards all.
	Events     []string
	RatePerMin int
	Burst      int
}

type Notifier struct {
	sender Sender
	log    logx.Logger

	mu      sync.Mutex
	filter  map[string]bool
	limiter *rate.Limiter

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{sender: sender, log: log}
	n.Apply(cfg)
	return n
}

// Apply swaps the filter and rate budget. Safe during Run.
func (n *Notifier) Apply(cfg Config) {
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = DefaultRatePerMin
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	var filter map[string]bool
	if len(cfg.Events) > 0 {
		filter = make(map[string]bool, len(cfg.Events))
		for _, t := range cfg.Events {
			if t = strings.TrimSpace(t); t != "" {
				filter[t] = true
			}
		}
	}
	lim := rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60), cfg.Burst)

	n.mu.Lock()
	n.filter = filter
	n.limiter = lim
	n.mu.Unlock()
}

// Run forwards events from bus until ctx ends.
func (n *Notifier) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(subscribeSize)
	defer unsub()
	n.log.Info("notifier started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n.Handle(ctx, ev)
		}
	}
}

// Handle filters, rate limits and sends one event. It reports whether a
// send was attempted.
func (n *Notifier) Handle(ctx context.Context, ev eventbus.Event) bool {
	n.mu.Lock()
	filter, lim := n.filter, n.limiter
	n.mu.Unlock()

	if filter != nil && !filter[ev.Type] {
		return false
	}
	if !lim.Allow() {
		n.dropped.Add(1)
		n.log.Debug("notification dropped", logx.String("type", ev.Type), logx.Uint64("dropped", n.dropped.Load()))
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.sender.Send(sctx, Format(ev)); err != nil {
		n.failed.Add(1)
		n.log.Warn("notification failed", logx.String("type", ev.Type), logx.Err(err))
		return true
	}
	n.sent.Add(1)
	return true
}

// Stats returns sent, dropped and failed counts.
func (n *Notifier) Stats() (sent, dropped, failed uint64) {
	return n.sent.Load(), n.dropped.Load(), n.failed.Load()
}

// Format renders ev as one line.
func Format(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case eventbus.BellData:
		prefix := "Bell"
		if ev.Type == eventbus.TypeManualPlay {
			prefix = "Manual play"
		}
		if d.Label != "" {
			return fmt.Sprintf("%s: %s track=%d at %s", prefix, d.Label, d.Track, d.Clock)
		}
		return fmt.Sprintf("%s: track=%d at %s", prefix, d.Track, d.Clock)
	case eventbus.VolumeData:
		if d.Requested != d.Applied {
			return fmt.Sprintf("Volume set to %d (requested %d)", d.Applied, d.Requested)
		}
		return fmt.Sprintf("Volume set to %d", d.Applied)
	case eventbus.FailureData:
		if d.Track > 0 {
			return fmt.Sprintf("Playback %s failed for track=%d: %s", d.Op, d.Track, d.Err)
		}
		return fmt.Sprintf("Playback %s failed: %s", d.Op, d.Err)
	}
	switch ev.Type {
	case eventbus.TypeManualStop:
		return "Playback stopped"
	case eventbus.TypeClockSynced:
		if s, ok := ev.Data.(string); ok && s != "" {
			return "Clock synced from network: " + s
		}
		return "Clock synced from network"
	}
	if ev.Data != nil {
		return fmt.Sprintf("%s: %v", ev.Type, ev.Data)
	}
	return ev.Type
}
