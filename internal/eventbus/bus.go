// Package eventbus is the in-process fan-out that carries engine side
// effects (rings, manual commands, volume changes, playback failures) to
// observers such as the Telegram notifier.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine.
const (
	TypeBellFired      = "bell.fired"
	TypeManualPlay     = "manual.play"
	TypeManualStop     = "manual.stop"
	TypeVolumeChanged  = "volume.changed"
	TypePlaybackFailed = "playback.failed"
	TypeClockSynced    = "clock.synced"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// BellData accompanies bell.fired and manual.play.
type BellData struct {
	Track int    `json:"track"`
	Label string `json:"label,omitempty"`
	Clock string `json:"clock"`
}

// VolumeData accompanies volume.changed.
type VolumeData struct {
	Requested int `json:"requested"`
	Applied   int `json:"applied"`
}

// FailureData accompanies playback.failed.
type FailureData struct {
	Op    string `json:"op"`
	Track int    `json:"track,omitempty"`
	Err   string `json:"err"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
