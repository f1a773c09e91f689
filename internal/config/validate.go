package config

import (
	"errors"
	"fmt"
	"strings"

	"schoolbell/internal/bell"
	"schoolbell/internal/scheduler"
	logx "schoolbell/pkg/logx"
)

// Validate checks a config after defaults and env overlay. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(errors.New("http.addr is required"))
	}
	for _, d := range []struct{ field, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"clock.sync_timeout", cfg.Clock.SyncTimeout},
		{"engine.tick_interval", cfg.Engine.TickInterval},
		{"engine.spin", cfg.Engine.Spin},
		{"playback.command_timeout", cfg.Playback.CommandTimeout},
		{"systemd.watchdog_stale", cfg.Systemd.WatchdogStale},
	} {
		_, err := ParseDurationField(d.field, d.raw)
		add(err)
	}
	if cfg.HTTP.RatePerSec < 0 || cfg.HTTP.Burst < 0 {
		add(errors.New("http.rate_per_sec and http.burst must be >= 0"))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if _, err := cfg.Clock.Location(); err != nil {
		add(fmt.Errorf("clock.timezone: %w", err))
	}
	if r := strings.TrimSpace(cfg.Clock.Resync); r != "" && !strings.EqualFold(r, ResyncOff) {
		if err := scheduler.ValidateSpec(r); err != nil {
			add(fmt.Errorf("clock.resync: %w", err))
		}
	}
	if cfg.Clock.MinValidEpoch < 0 {
		add(errors.New("clock.min_valid_epoch must be >= 0"))
	}

	if v := cfg.Engine.InitialVolume; v != nil && (*v < 0 || *v > 30) {
		add(fmt.Errorf("engine.initial_volume: %d out of 0..30", *v))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Playback.Driver)) {
	case "", "none", "mpd":
	case "oto":
		if strings.TrimSpace(cfg.Playback.Oto.Dir) == "" {
			add(errors.New("playback.oto.dir is required for the oto driver"))
		}
	default:
		add(fmt.Errorf("playback.driver: unknown driver %q", cfg.Playback.Driver))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	if n := cfg.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			add(errors.New("notify.token is required when notify is enabled"))
		}
		if n.ChatID == 0 {
			add(errors.New("notify.chat_id is required when notify is enabled"))
		}
		if n.RatePerMin < 0 || n.Burst < 0 {
			add(errors.New("notify.rate_per_min and notify.burst must be >= 0"))
		}
		_, err := ParseDurationField("notify.poll_timeout", n.PollTimeout)
		add(err)
	}

	if _, err := bell.NewTable(cfg.Schedule); err != nil {
		add(err)
	}
	return errors.Join(errs...)
}
