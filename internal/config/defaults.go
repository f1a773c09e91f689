package config

import (
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
)

const (
	DefaultHTTPAddr       = ":8080"
	DefaultLogLevel       = "info"
	DefaultSyncTimeout    = "6s"
	DefaultResync         = "@hourly"
	DefaultTickInterval   = "250ms"
	DefaultSpin           = "50ms"
	DefaultVolume         = 20
	DefaultPlayback       = "none"
	DefaultCommandTimeout = "2s"
	DefaultWatchdogStale  = "5s"

	// ResyncOff disables periodic network time corrections.
	ResyncOff = "off"
)

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Console: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills empty fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Clock.NTPServer == "" {
		cfg.Clock.NTPServer = clock.DefaultNTPServer
	}
	if cfg.Clock.SyncTimeout == "" {
		cfg.Clock.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.Clock.Resync == "" {
		cfg.Clock.Resync = DefaultResync
	}
	if cfg.Clock.MinValidEpoch == 0 {
		cfg.Clock.MinValidEpoch = clock.DefaultMinValidEpoch
	}
	if cfg.Clock.SyncOnStart == nil {
		on := true
		cfg.Clock.SyncOnStart = &on
	}

	if cfg.Engine.TickInterval == "" {
		cfg.Engine.TickInterval = DefaultTickInterval
	}
	if cfg.Engine.Spin == "" {
		cfg.Engine.Spin = DefaultSpin
	}
	if cfg.Engine.InitialVolume == nil {
		v := DefaultVolume
		cfg.Engine.InitialVolume = &v
	}

	if cfg.Playback.Driver == "" {
		cfg.Playback.Driver = DefaultPlayback
	}
	if cfg.Playback.CommandTimeout == "" {
		cfg.Playback.CommandTimeout = DefaultCommandTimeout
	}

	if cfg.Systemd.WatchdogStale == "" {
		cfg.Systemd.WatchdogStale = DefaultWatchdogStale
	}
	if cfg.Schedule == nil {
		cfg.Schedule = bell.DefaultEvents()
	}
}

// Location resolves clock.timezone; empty means the host zone.
func (c ClockConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
