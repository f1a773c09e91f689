package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/clock"
	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

const (
	DefaultResyncSpec  = "@hourly"
	DefaultSyncTimeout = 6 * time.Second
)

type Config struct {
	Tick        time.Duration
	Spin        time.Duration
	ResyncSpec  string // empty disables periodic resync
	SyncTimeout time.Duration
	Location    *time.Location
}

// Parser accepts 5 or 6 field specs and descriptors such as @hourly.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec checks a resync cron expression.
func ValidateSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	_, err := Parser.Parse(spec)
	return err
}

// Service owns the tick loop and the resync cron.
type Service struct {
	cfg  Config
	loop *Loop
	clk  clock.Source
	bus  eventbus.Bus
	log  logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entryID cron.EntryID
	syncing sync.Mutex
}

func New(cfg Config, eng Ticker, clk clock.Source, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg:  cfg,
		loop: NewLoop(eng, cfg.Tick, cfg.Spin, log),
		clk:  clk,
		bus:  bus,
		log:  log,
	}
}

func (s *Service) Loop() *Loop { return s.loop }

// SyncNow makes one bounded network time attempt. Concurrent calls collapse
// into the one already running.
func (s *Service) SyncNow(ctx context.Context) bool {
	if !s.syncing.TryLock() {
		s.log.Debug("network sync already in progress")
		return false
	}
	defer s.syncing.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	start := time.Now()
	ok := s.clk.TrySyncFromNetwork(ctx)
	if ok {
		now := s.clk.Now()
		s.log.Info("clock corrected from network", logx.String("clock", now.String()), logx.Duration("took", time.Since(start)))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeClockSynced, Data: now.String()})
	} else {
		s.log.Debug("network sync failed; keeping persistent clock", logx.Duration("took", time.Since(start)))
	}
	return ok
}

// Start registers the resync job and starts cron. It does not run the loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.c = cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	spec := strings.TrimSpace(s.cfg.ResyncSpec)
	if spec != "" {
		id, err := s.c.AddFunc(spec, func() { s.SyncNow(ctx) })
		if err != nil {
			s.c = nil
			return err
		}
		s.entryID = id
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.cfg.Location.String()),
		logx.String("resync", spec),
		logx.Time("nextResync", s.nextResyncLocked()),
	)
	return nil
}

// Run drives the tick loop until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NextResync is the next scheduled network sync, zero when none.
func (s *Service) NextResync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextResyncLocked()
}

func (s *Service) nextResyncLocked() time.Time {
	if s.c == nil || s.entryID == 0 {
		return time.Time{}
	}
	sched, err := Parser.Parse(strings.TrimSpace(s.cfg.ResyncSpec))
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now().In(s.cfg.Location))
}

// Stop halts cron, waiting for a running sync up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}
