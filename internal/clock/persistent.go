package clock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	logx "schoolbell/pkg/logx"
)

const (
	stateKeyOffset   = "clock.offset_ms"
	stateKeyLastSync = "clock.last_sync"

	defaultSyncTimeout = 6 * time.Second
	statePersistBudget = time.Second
)

// StateStore persists the clock correction across restarts.
// storage.Store satisfies it.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	PutState(ctx context.Context, key, value string) error
}

// Fetcher reads the current time from the network.
type Fetcher interface {
	Fetch(ctx context.Context) (time.Time, error)
}

type PersistentConfig struct {
	Location *time.Location
	// MinValidEpoch is the known-good cutoff in unix seconds (0 = default).
	MinValidEpoch int64
	// SyncTimeout bounds every network attempt (0 = 6s).
	SyncTimeout time.Duration
}

// Persistent is the production clock: the host's battery-backed clock plus a
// correction offset. The offset is written to the state store on every Set
// so a correction survives restarts even when the network does not come back.
type Persistent struct {
	mu     sync.Mutex
	loc    *time.Location
	offset time.Duration
	status SyncStatus

	host     func() time.Time
	fetcher  Fetcher
	state    StateStore
	log      logx.Logger
	minValid int64
	timeout  time.Duration
}

type Option func(*Persistent)

// WithHostClock replaces time.Now as the underlying reading.
func WithHostClock(fn func() time.Time) Option {
	return func(p *Persistent) {
		if fn != nil {
			p.host = fn
		}
	}
}

// NewPersistent builds the clock. A state store failure is not fatal: the
// clock falls back to the raw host time and the problem is logged.
func NewPersistent(cfg PersistentConfig, fetcher Fetcher, state StateStore, log logx.Logger, opts ...Option) *Persistent {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Persistent{
		loc:      cfg.Location,
		host:     time.Now,
		fetcher:  fetcher,
		state:    state,
		log:      log,
		minValid: cfg.MinValidEpoch,
		timeout:  cfg.SyncTimeout,
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	if p.minValid <= 0 {
		p.minValid = DefaultMinValidEpoch
	}
	if p.timeout <= 0 {
		p.timeout = defaultSyncTimeout
	}
	for _, o := range opts {
		o(p)
	}

	if err := p.loadState(); err != nil {
		log.Warn("clock state unavailable; using host clock", logx.Err(err))
	}
	if now := p.host().Add(p.offset); now.Unix() < p.minValid {
		log.Warn("clock reading predates known-good cutoff; schedule will not match until synced",
			logx.Time("now", now), logx.Int64("cutoff", p.minValid))
	}
	return p
}

func (p *Persistent) loadState() error {
	if p.state == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), statePersistBudget)
	defer cancel()

	raw, ok, err := p.state.GetState(ctx, stateKeyOffset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: bad offset %q", ErrUnavailable, raw)
		}
		p.offset = time.Duration(ms) * time.Millisecond
	}
	if raw, ok, err := p.state.GetState(ctx, stateKeyLastSync); err == nil && ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			p.status.LastSuccess = t
		}
	}
	return nil
}

func (p *Persistent) Location() *time.Location { return p.loc }

func (p *Persistent) Now() Timestamp {
	p.mu.Lock()
	off := p.offset
	p.mu.Unlock()
	return FromTime(p.host().Add(off).In(p.loc))
}

// Set overwrites the clock with ts, interpreted in the clock's location.
func (p *Persistent) Set(ts Timestamp) error {
	return p.setTime(ts.Time(p.loc))
}

func (p *Persistent) setTime(t time.Time) error {
	p.mu.Lock()
	p.offset = t.Sub(p.host())
	off := p.offset
	p.mu.Unlock()

	if p.state == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), statePersistBudget)
	defer cancel()
	if err := p.state.PutState(ctx, stateKeyOffset, strconv.FormatInt(off.Milliseconds(), 10)); err != nil {
		return fmt.Errorf("persist clock offset: %w", err)
	}
	return nil
}

// TrySyncFromNetwork makes a single bounded attempt. The timeout is enforced
// here even if the fetcher ignores its context.
func (p *Persistent) TrySyncFromNetwork(ctx context.Context) bool {
	if p.fetcher == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		t   time.Time
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := p.fetcher.Fetch(ctx)
		ch <- result{t: t, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = fmt.Errorf("%w: %v", ErrSyncTimeout, ctx.Err())
	}

	if r.err == nil && r.t.Unix() < p.minValid {
		r.err = fmt.Errorf("%w: %s", ErrImplausibleTime, r.t.UTC().Format(time.RFC3339))
	}

	attempt := p.host()
	if r.err != nil {
		p.mu.Lock()
		p.status.LastAttempt = attempt
		p.status.LastError = r.err.Error()
		p.mu.Unlock()
		if errors.Is(r.err, ErrImplausibleTime) {
			p.log.Warn("network time rejected", logx.Err(r.err))
		} else {
			p.log.Debug("network time unavailable; keeping clock", logx.Err(r.err))
		}
		return false
	}

	prev := p.Now()
	if err := p.setTime(r.t); err != nil {
		// The in-memory correction is applied; only persistence failed.
		p.log.Warn("clock corrected but not persisted", logx.Err(err))
	}
	p.mu.Lock()
	p.status.LastAttempt = attempt
	p.status.LastSuccess = attempt
	p.status.LastError = ""
	p.mu.Unlock()
	if p.state != nil {
		sctx, scancel := context.WithTimeout(context.Background(), statePersistBudget)
		if err := p.state.PutState(sctx, stateKeyLastSync, attempt.UTC().Format(time.RFC3339)); err != nil {
			p.log.Debug("last sync not persisted", logx.Err(err))
		}
		scancel()
	}
	p.log.Info("clock synced from network", logx.String("was", prev.String()), logx.String("now", p.Now().String()))
	return true
}

func (p *Persistent) SyncStatus() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
