// Package supervisor runs the controller's long-lived loops (tick loop,
// HTTP server, notifier, config watcher) under one cancellable context,
// with panic capture and restart-with-backoff for loops that should
// self-heal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "schoolbell/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr error
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskStatus
}

// TaskStatus is a point-in-time view of one named task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	StartedAt time.Time `json:"startedAt"`
	LastErr   string    `json:"lastErr,omitempty"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every task once one fails for good.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		tasks:  map[string]*TaskStatus{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first fatal task error, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Tasks lists task states sorted by name.
func (s *Supervisor) Tasks() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Go runs fn once. A returned error (other than cancellation) or a panic is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mark(name, func(t *TaskStatus) {
			t.Running = true
			t.StartedAt = time.Now()
		})
		err := s.run(name, fn)
		s.mark(name, func(t *TaskStatus) { t.Running = false })
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // <=0 means unlimited
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up (and fails the supervisor) after n restarts.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart runs fn and restarts it after an error or panic, with jittered
// exponential backoff, until the context ends. A nil return stops it.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.mark(name, func(t *TaskStatus) { t.Running = false })

		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			startedAt := time.Now()
			s.mark(name, func(t *TaskStatus) {
				t.Running = true
				t.StartedAt = startedAt
				t.Restarts = restarts
			})

			err := s.run(name, fn)
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) || err == nil {
				return
			}

			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("task gave up", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			// A long healthy run resets the backoff.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			wait := backoff + jitter(backoff)
			if wait > cfg.maxBackoff {
				wait = cfg.maxBackoff
			}
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	}()
}

// run calls fn, turning a panic into an error.
func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.mark(name, func(t *TaskStatus) { t.Panics++ })
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			msg := err.Error()
			s.mark(name, func(t *TaskStatus) { t.LastErr = msg })
		}
	}()
	s.log.Debug("task started", logx.String("task", name))
	return fn(s.ctx)
}

func (s *Supervisor) mark(name string, fn func(t *TaskStatus)) {
	s.mu.Lock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStatus{Name: name}
		s.tasks[name] = t
	}
	fn(t)
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.firstErr = err
		s.mu.Unlock()
	})
	if s.cancelOnErr {
		s.cancel()
	}
}

// Cancel signals every task to stop without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Stop cancels every task and waits for them, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

// jitter returns up to 20% of d.
func jitter(d time.Duration) time.Duration {
	j := int64(d) / 5
	if j <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % (j + 1))
}
