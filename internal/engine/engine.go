// Package engine is the bell controller's state machine. It owns the
// de-duplication memory, the manual-play lock and the volume setting, and
// decides on every tick whether a scheduled ring is due.
//
// All state sits behind one mutex: the tick loop and the control surface
// may call in concurrently.
package engine

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/override"
	"schoolbell/internal/playback"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

const (
	// ManualLockDuration is how long a manual play keeps automatic rings quiet.
	ManualLockDuration = 3 * time.Minute

	MinVolume     = 0
	MaxVolume     = playback.MaxLevel
	DefaultVolume = 20

	StateKeyVolume = "volume"

	sideEffectTimeout = time.Second
)

// Store is the persistence the engine writes to. Optional.
type Store interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	PutState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (string, bool, error)
}

type Deps struct {
	Clock  clock.Source
	Table  *bell.Table
	Player playback.Port
	Bus    eventbus.Bus
	Store  Store
	Log    logx.Logger
	// Now is the monotonic clock driving the manual lock; nil means time.Now.
	Now func() time.Time
}

type Option func(*Engine)

// WithInitialVolume sets the volume used until a persisted or requested one
// replaces it. Out-of-range values are clamped.
func WithInitialVolume(v int) Option {
	return func(e *Engine) { e.volume = ClampVolume(v) }
}

// WithLockDuration overrides ManualLockDuration.
func WithLockDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockFor = d
		}
	}
}

// minuteKey identifies one calendar minute.
type minuteKey struct {
	year, month, day, hour, minute int
}

func keyOf(ts clock.Timestamp) minuteKey {
	return minuteKey{ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute}
}

// Trigger describes the latest automatic ring.
type Trigger struct {
	At    clock.Timestamp
	Track int
	Label string
}

// TickResult describes what one Tick did.
type TickResult struct {
	At        clock.Timestamp
	Locked    bool
	Evaluated bool
	Fired     []bell.Event
	Skipped   int
}

// Snapshot is a read-only status view. ManualLockRemaining is measured on
// the monotonic clock, so it stays valid across clock corrections.
type Snapshot struct {
	Time                clock.Timestamp
	Volume              int
	ManualLock          bool
	ManualLockRemaining time.Duration
	LastTrigger         *Trigger
}

// ManualLockEnd is when the lock expires on the controller clock, or the
// zero Timestamp when no lock is held.
func (s Snapshot) ManualLockEnd() clock.Timestamp {
	if !s.ManualLock {
		return clock.Timestamp{}
	}
	return clock.FromTime(s.Time.Time(time.UTC).Add(s.ManualLockRemaining.Truncate(time.Second)))
}

type Engine struct {
	clk    clock.Source
	table  *bell.Table
	player playback.Port
	bus    eventbus.Bus
	store  Store
	log    logx.Logger

	lockFor time.Duration

	mu     sync.Mutex
	lock   *override.Lock
	volume int

	// Memory of the minute that last fired and the tracks fired in it.
	firedMinute minuteKey
	firedTracks []int
	hasFired    bool
	last        *Trigger
}

func New(d Deps, opts ...Option) (*Engine, error) {
	if d.Clock == nil {
		return nil, errors.New("engine: clock is required")
	}
	if d.Table == nil {
		return nil, errors.New("engine: schedule table is required")
	}
	if d.Player == nil {
		d.Player = playback.Discard{Log: d.Log}
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	e := &Engine{
		clk:     d.Clock,
		table:   d.Table,
		player:  d.Player,
		bus:     d.Bus,
		store:   d.Store,
		log:     d.Log.With(logx.String("comp", "engine")),
		lockFor: ManualLockDuration,
		lock:    override.New(d.Now),
		volume:  DefaultVolume,
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e, nil
}

// ClampVolume forces v into [MinVolume, MaxVolume].
func ClampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// ValidateTrack checks a manual track request.
func ValidateTrack(track int) error {
	if track < bell.MinTrack || track > bell.MaxTrack {
		return &ValidationError{
			Field:  "track",
			Value:  track,
			Reason: "must be within " + strconv.Itoa(bell.MinTrack) + ".." + strconv.Itoa(bell.MaxTrack),
			Err:    ErrInvalidTrack,
		}
	}
	return nil
}

// RestoreVolume loads the persisted volume, if any, and pushes the current
// setting to the device. It returns the volume in effect.
func (e *Engine) RestoreVolume(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		sctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		raw, ok, err := e.store.GetState(sctx, StateKeyVolume)
		cancel()
		switch {
		case err != nil:
			e.log.Warn("read persisted volume failed", logx.Err(err))
		case ok:
			if v, perr := strconv.Atoi(raw); perr == nil {
				e.volume = ClampVolume(v)
			} else {
				e.log.Warn("ignoring malformed persisted volume", logx.String("value", raw))
			}
		}
	}
	if err := e.player.SetVolume(ctx, e.volume); err != nil {
		e.playbackFailed("volume", 0, err)
	}
	e.log.Info("volume initialized", logx.Int("volume", e.volume))
	return e.volume
}

// Tick runs one scheduling check.
func (e *Engine) Tick(ctx context.Context) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Expire first so a lapsed lock never suppresses this tick.
	if e.lock.IsActive() {
		return TickResult{Locked: true}
	}

	ts := e.clk.Now()
	res := TickResult{At: ts}
	if ts.Second != 0 {
		return res
	}
	res.Evaluated = true

	key := keyOf(ts)
	if !e.hasFired || e.firedMinute != key {
		e.firedMinute = key
		e.firedTracks = e.firedTracks[:0]
		e.hasFired = false
	}

	for ev := range e.table.Matches(ts) {
		if e.hasFired && slices.Contains(e.firedTracks, ev.Track) {
			res.Skipped++
			continue
		}
		e.ring(ctx, ts, ev)
		e.hasFired = true
		e.firedTracks = append(e.firedTracks, ev.Track)
		e.last = &Trigger{At: ts, Track: ev.Track, Label: ev.Label}
		res.Fired = append(res.Fired, ev)
	}
	return res
}

func (e *Engine) ring(ctx context.Context, ts clock.Timestamp, ev bell.Event) {
	err := e.play(ctx, ev.Track)
	e.log.Info("bell fired",
		logx.String("label", ev.Label),
		logx.Int("track", ev.Track),
		logx.String("at", ts.String()),
	)
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeBellFired,
		Data: eventbus.BellData{Track: ev.Track, Label: ev.Label, Clock: ts.String()},
	})
	e.audit(ctx, storage.AuditEntry{
		Source: storage.SourceSchedule,
		Action: "ring",
		Track:  ev.Track,
		Volume: e.volume,
		Label:  ev.Label,
		Error:  errString(err),
	})
}

// play applies the current volume, then starts the track. Failures are
// reported on the bus and otherwise ignored.
func (e *Engine) play(ctx context.Context, track int) error {
	if err := e.player.SetVolume(ctx, e.volume); err != nil {
		e.playbackFailed("volume", track, err)
	}
	if err := e.player.Play(ctx, track); err != nil {
		e.playbackFailed("play", track, err)
		return err
	}
	return nil
}

// RequestManualPlay validates track, opens the manual lock and plays it.
// Only validation errors are returned.
func (e *Engine) RequestManualPlay(ctx context.Context, track int) error {
	if err := ValidateTrack(track); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lock.Activate(e.lockFor)
	err := e.play(ctx, track)

	until := e.lock.ExpiresAt()
	e.log.Info("manual play", logx.Int("track", track), logx.Time("lockUntil", until))
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeManualPlay,
		Data: eventbus.BellData{Track: track, Clock: e.clk.Now().String()},
	})
	e.audit(ctx, storage.AuditEntry{
		Source: storage.SourceHTTP,
		Action: "play",
		Track:  track,
		Volume: e.volume,
		Error:  errString(err),
	})
	return nil
}

// RequestStop halts playback. The manual lock is left as it is.
func (e *Engine) RequestStop(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.player.Stop(ctx)
	if err != nil {
		e.playbackFailed("stop", 0, err)
	}
	e.log.Info("manual stop")
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeManualStop})
	e.audit(ctx, storage.AuditEntry{Source: storage.SourceHTTP, Action: "stop", Error: errString(err)})
}

// RequestVolume clamps level, stores it and applies it to the device
// immediately. It returns the applied level.
func (e *Engine) RequestVolume(ctx context.Context, level int) int {
	v := ClampVolume(level)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = v
	err := e.player.SetVolume(ctx, v)
	if err != nil {
		e.playbackFailed("volume", 0, err)
	}
	e.log.Info("volume changed", logx.Int("requested", level), logx.Int("volume", v))
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeVolumeChanged,
		Data: eventbus.VolumeData{Requested: level, Applied: v},
	})
	if e.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		if perr := e.store.PutState(sctx, StateKeyVolume, strconv.Itoa(v)); perr != nil {
			e.log.Warn("persist volume failed", logx.Err(perr))
		}
		cancel()
	}
	e.audit(ctx, storage.AuditEntry{Source: storage.SourceHTTP, Action: "volume", Volume: v, Error: errString(err)})
	return v
}

func (e *Engine) Volume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Time:   e.clk.Now(),
		Volume: e.volume,
	}
	if rem := e.lock.Remaining(); rem > 0 {
		s.ManualLock = true
		s.ManualLockRemaining = rem
	}
	if e.last != nil {
		t := *e.last
		s.LastTrigger = &t
	}
	return s
}

func (e *Engine) playbackFailed(op string, track int, err error) {
	e.log.Warn("playback command failed", logx.String("op", op), logx.Int("track", track), logx.Err(err))
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypePlaybackFailed,
		Data: eventbus.FailureData{Op: op, Track: track, Err: err.Error()},
	})
}

func (e *Engine) audit(ctx context.Context, entry storage.AuditEntry) {
	if e.store == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := e.store.AppendAudit(sctx, entry); err != nil {
		e.log.Debug("audit append failed", logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
