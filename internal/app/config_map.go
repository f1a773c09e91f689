package app

import (
	"fmt"
	"strings"
	"time"

	"schoolbell/internal/clock"
	"schoolbell/internal/config"
	"schoolbell/internal/httpapi"
	"schoolbell/internal/notify"
	"schoolbell/internal/playback"
	"schoolbell/internal/playback/mpdplayer"
	"schoolbell/internal/playback/otoplayer"
	"schoolbell/internal/scheduler"
	"schoolbell/internal/storage"
)

// mapStorageConfig reports enabled=false when storage is absent or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:   strings.TrimSpace(cfg.Storage.Path),
	}
	switch out.Driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if out.Path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", out.Driver)
	}
	return out, true, nil
}

func mapClockConfig(cfg *config.Config) (clock.PersistentConfig, error) {
	loc, err := cfg.Clock.Location()
	if err != nil {
		return clock.PersistentConfig{}, err
	}
	timeout, err := config.ParseDurationOrDefault("clock.sync_timeout", cfg.Clock.SyncTimeout, scheduler.DefaultSyncTimeout)
	if err != nil {
		return clock.PersistentConfig{}, err
	}
	return clock.PersistentConfig{
		Location:      loc,
		MinValidEpoch: cfg.Clock.MinValidEpoch,
		SyncTimeout:   timeout,
	}, nil
}

func mapPlaybackConfig(cfg *config.Config) (playback.Config, error) {
	pc := cfg.Playback
	timeout, err := config.ParseDurationOrDefault("playback.command_timeout", pc.CommandTimeout, playback.DefaultCommandTimeout)
	if err != nil {
		return playback.Config{}, err
	}
	return playback.Config{
		Driver:         pc.Driver,
		CommandTimeout: timeout,
		MPD: mpdplayer.Config{
			Network:  pc.MPD.Network,
			Addr:     pc.MPD.Addr,
			Password: pc.MPD.Password,
			Pattern:  pc.MPD.Pattern,
		},
		Oto: otoplayer.Config{
			Dir:        pc.Oto.Dir,
			Pattern:    pc.Oto.Pattern,
			SampleRate: pc.Oto.SampleRate,
			Channels:   pc.Oto.Channels,
		},
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("engine.tick_interval", cfg.Engine.TickInterval, scheduler.DefaultTickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	spin, err := config.ParseDurationOrDefault("engine.spin", cfg.Engine.Spin, scheduler.DefaultSpin)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("clock.sync_timeout", cfg.Clock.SyncTimeout, scheduler.DefaultSyncTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	loc, err := cfg.Clock.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	resync := strings.TrimSpace(cfg.Clock.Resync)
	if strings.EqualFold(resync, config.ResyncOff) {
		resync = ""
	}
	return scheduler.Config{
		Tick:        tick,
		Spin:        spin,
		ResyncSpec:  resync,
		SyncTimeout: timeout,
		Location:    loc,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         hc.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   hc.RatePerSec,
		Burst:        hc.Burst,
		Pprof:        hc.Pprof,
	}, nil
}

// mapNotifyConfig reports enabled=false when the section is missing or off.
func mapNotifyConfig(cfg *config.Config) (notify.Config, notify.TelegramConfig, bool, error) {
	nc := cfg.Notify
	if nc == nil || !nc.Enabled {
		return notify.Config{}, notify.TelegramConfig{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("notify.poll_timeout", nc.PollTimeout, notify.DefaultPollTimeout)
	if err != nil {
		return notify.Config{}, notify.TelegramConfig{}, false, err
	}
	return notify.Config{
			Events:     append([]string(nil), nc.Events...),
			RatePerMin: nc.RatePerMin,
			Burst:      nc.Burst,
		}, notify.TelegramConfig{
			Token:       nc.Token,
			ChatID:      nc.ChatID,
			ThreadID:    nc.ThreadID,
			PollTimeout: poll,
		}, true, nil
}

func watchdogStale(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("systemd.watchdog_stale", cfg.Systemd.WatchdogStale, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
