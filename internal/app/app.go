package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/config"
	"schoolbell/internal/engine"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/httpapi"
	"schoolbell/internal/notify"
	"schoolbell/internal/playback"
	"schoolbell/internal/runtime/supervisor"
	"schoolbell/internal/scheduler"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
	"schoolbell/pkg/systemd"
	"schoolbell/pkg/systemdmanager"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	fs   afero.Fs

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	table  *bell.Table
	clock  *clock.Persistent
	player *playback.Guarded
	engine *engine.Engine
	sched  *scheduler.Service
	http   *httpapi.Server

	notif     *notify.Notifier
	tg        *notify.Telegram
	notifMu   sync.Mutex
	notifStop context.CancelFunc

	sd       *systemd.Notifier
	units    *systemdmanager.UnitManager
	recovery *unitRecovery
	stale    time.Duration

	netInfo     httpapi.NetInfo
	syncOnStart bool
}

type Option func(*App)

// WithFs sets the filesystem used for storage and file playback.
func WithFs(fs afero.Fs) Option { return func(a *App) { a.fs = fs } }

// WithNetInfo replaces the host interface probe behind /status.
func WithNetInfo(n httpapi.NetInfo) Option { return func(a *App) { a.netInfo = n } }

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a := &App{cfgm: cfgm}
	for _, o := range opts {
		o(a)
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	logSvc, log := logx.New(cfg.Logging.Logx())
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	table, err := bell.NewTable(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	a.table = table

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.OpenFs(a.fs, sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	cc, err := mapClockConfig(cfg)
	if err != nil {
		return err
	}
	fetcher := clock.NTPFetcher{Server: cfg.Clock.NTPServer, Timeout: cc.SyncTimeout}
	var state clock.StateStore
	if a.store != nil {
		state = a.store
	}
	a.clock = clock.NewPersistent(cc, fetcher, state, log.With(logx.String("comp", "clock")))
	a.syncOnStart = cfg.Clock.SyncOnStart == nil || *cfg.Clock.SyncOnStart

	pc, err := mapPlaybackConfig(cfg)
	if err != nil {
		return err
	}
	player, err := playback.Open(pc, a.fs, log)
	if err != nil {
		return err
	}
	a.player = player

	var store engine.Store
	if a.store != nil {
		store = a.store
	}
	vol := config.DefaultVolume
	if cfg.Engine.InitialVolume != nil {
		vol = *cfg.Engine.InitialVolume
	}
	eng, err := engine.New(engine.Deps{
		Clock:  a.clock,
		Table:  table,
		Player: player,
		Bus:    a.bus,
		Store:  store,
		Log:    log,
	}, engine.WithInitialVolume(vol))
	if err != nil {
		return err
	}
	a.engine = eng

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(sc, eng, a.clock, a.bus, log)

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	netInfo := a.netInfo
	if netInfo == nil {
		netInfo = httpapi.Interfaces{Name: cfg.HTTP.Interface}
	}
	srv, err := httpapi.New(hc, httpapi.Deps{
		Engine: eng,
		Table:  table,
		Net:    netInfo,
		Sync:   a.clock,
		Log:    log.With(logx.String("comp", "http")),
	})
	if err != nil {
		return err
	}
	a.http = srv

	nc, tc, enabled, err := mapNotifyConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		nlog := log.With(logx.String("comp", "notify"))
		tg, err := notify.NewTelegram(tc, nlog)
		if err != nil {
			// The bell must ring without chat access.
			a.log.Warn("telegram unavailable; notifications off", logx.Err(err))
		} else {
			a.tg = tg
			a.notif = notify.New(nc, tg, nlog)
			tg.HandleCommands(
				func() string { return notify.StatusText(a.engine.Snapshot()) },
				func() string { return notify.ScheduleText(a.table.Events()) },
			)
		}
	}

	a.sd = systemd.New(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	a.stale = watchdogStale(cfg)

	if playback.NormalizeDriver(cfg.Playback.Driver) == "mpd" && strings.TrimSpace(cfg.Playback.MPD.Unit) != "" {
		units, err := systemdmanager.New(context.Background())
		if err != nil {
			a.log.Warn("systemd manager unavailable; mpd unit recovery off", logx.Err(err))
		} else {
			a.units = units
			a.recovery = newUnitRecovery(cfg.Playback.MPD.Unit, units, recoveryCooldown, log)
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound control surface address once serving.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		_, err := mapHTTPConfig(cfg)
		return err
	})

	if a.syncOnStart {
		a.sched.SyncNow(runCtx)
	}
	a.engine.RestoreVolume(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("scheduler: %w", err)
	}

	a.sup.GoRestart("scheduler.loop", a.sched.Run, supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	a.sup.GoRestart("http.serve", a.http.Serve, supervisor.WithRestartBackoff(time.Second, 30*time.Second), supervisor.WithMaxRestarts(10))
	if a.notif != nil {
		a.startNotifier(runCtx)
		a.sup.GoRestart("telegram.poll", a.tg.Poll, supervisor.WithRestartBackoff(2*time.Second, time.Minute))
	}
	if a.recovery != nil {
		a.sup.Go("mpd.recovery", func(c context.Context) error { return a.recovery.Run(c, a.bus) })
	}

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.Watchdog(c, a.tickAlive)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Keep only the newest queued config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d bells scheduled, volume %d", a.table.Len(), a.engine.Volume()))
	a.log.Info("app started",
		logx.String("http", a.http.Addr()),
		logx.Int("bells", a.table.Len()),
		logx.Int("volume", a.engine.Volume()),
	)
	return nil
}

func (a *App) tickAlive() bool {
	last := a.sched.Loop().LastTick()
	return !last.IsZero() && time.Since(last) < a.stale
}

// startNotifier runs the forwarder under its own cancel so a reload can
// switch it off and on again.
func (a *App) startNotifier(parent context.Context) {
	a.notifMu.Lock()
	defer a.notifMu.Unlock()
	if a.notifStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	a.notifStop = cancel
	a.sup.GoRestart("notify.forward", func(context.Context) error { return a.notif.Run(ctx, a.bus) })
}

func (a *App) stopNotifier() {
	a.notifMu.Lock()
	defer a.notifMu.Unlock()
	if a.notifStop != nil {
		a.notifStop()
		a.notifStop = nil
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(next.Logging.Logx())

	nc, _, enabled, err := mapNotifyConfig(next)
	switch {
	case err != nil:
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	case a.notif == nil && enabled:
		a.log.Warn("notify enabled but telegram client not running; restart required")
	case a.notif != nil && enabled:
		a.notif.Apply(nc)
		a.startNotifier(ctx)
	case a.notif != nil && !enabled:
		a.log.Info("notifications disabled via config")
		a.stopNotifier()
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sd.Stopping()

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("playback", 2*time.Second, func(c context.Context) error { return a.player.Stop(c) })
	step("units", time.Second, func(context.Context) error {
		if a.units != nil {
			return a.units.Close()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
