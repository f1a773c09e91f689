package config

import (
	"schoolbell/internal/bell"
	logx "schoolbell/pkg/logx"
)

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
	Clock    ClockConfig    `json:"clock"`
	Engine   EngineConfig   `json:"engine"`
	Playback PlaybackConfig `json:"playback"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Notify   *NotifyConfig  `json:"notify,omitempty"`
	Systemd  SystemdConfig  `json:"systemd"`

	// Schedule is fixed for the process lifetime. When omitted the stock
	// school-day program is used.
	Schedule []bell.Event `json:"schedule,omitempty"`
}

// HTTPConfig controls the control surface.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// RatePerSec/Burst bound requests across all clients; 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// Pprof mounts /debug on the control surface.
	Pprof bool `json:"pprof,omitempty"`
	// Interface is the network interface reported by /status; empty picks
	// the first non-loopback interface that is up.
	Interface string `json:"interface,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx maps the section onto the logger's own config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// ClockConfig controls the persistent clock and its network correction.
type ClockConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	NTPServer     string `json:"ntp_server,omitempty"`
	SyncTimeout   string `json:"sync_timeout,omitempty"`
	Resync        string `json:"resync,omitempty"` // cron spec; "off" disables
	MinValidEpoch int64  `json:"min_valid_epoch,omitempty"`
	// SyncOnStart makes one bounded attempt during startup. Default true.
	SyncOnStart *bool `json:"sync_on_start,omitempty"`
}

type EngineConfig struct {
	TickInterval  string `json:"tick_interval,omitempty"`
	Spin          string `json:"spin,omitempty"`
	InitialVolume *int   `json:"initial_volume,omitempty"`
}

type PlaybackConfig struct {
	Driver         string    `json:"driver"` // none|mpd|oto
	CommandTimeout string    `json:"command_timeout,omitempty"`
	MPD            MPDConfig `json:"mpd,omitempty"`
	Oto            OtoConfig `json:"oto,omitempty"`
}

type MPDConfig struct {
	Network  string `json:"network,omitempty"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	// Unit names the systemd unit running MPD. When set, a failed playback
	// command checks the unit and restarts it if it is down.
	Unit string `json:"unit,omitempty"`
}

type OtoConfig struct {
	Dir        string `json:"dir,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// StorageConfig controls persistence.
//
// driver: "file" (jsonl + snapshot) or "sqlite". Omitted or "none" disables.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifyConfig forwards engine events to a Telegram chat.
//
// events lists event types to forward; empty means all.
type NotifyConfig struct {
	Enabled     bool     `json:"enabled"`
	Token       string   `json:"token,omitempty"`
	ChatID      int64    `json:"chat_id"`
	ThreadID    int      `json:"thread_id,omitempty"`
	Events      []string `json:"events,omitempty"`
	RatePerMin  int      `json:"rate_per_min,omitempty"`
	Burst       int      `json:"burst,omitempty"`
	PollTimeout string   `json:"poll_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
	// WatchdogStale is how old the last tick may be before watchdog pings
	// stop. Default 5s.
	WatchdogStale string `json:"watchdog_stale,omitempty"`
}
