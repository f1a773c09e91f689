package config

import (
	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "BELL_"

// envOverlay lists the settings that may come from the environment. Unset
// variables leave the pointers nil.
type envOverlay struct {
	HTTPAddr       *string `env:"HTTP_ADDR"`
	LogLevel       *string `env:"LOG_LEVEL"`
	Timezone       *string `env:"TIMEZONE"`
	NTPServer      *string `env:"NTP_SERVER"`
	PlaybackDriver *string `env:"PLAYBACK_DRIVER"`
	MPDAddr        *string `env:"MPD_ADDR"`
	TelegramToken  *string `env:"TELEGRAM_TOKEN"`
	TelegramChatID *int64  `env:"TELEGRAM_CHAT_ID"`
	StorageDriver  *string `env:"STORAGE_DRIVER"`
	StoragePath    *string `env:"STORAGE_PATH"`
}

// ApplyEnv overlays BELL_* variables onto cfg. environ nil means the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverlay
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return err
	}
	setStr(&cfg.HTTP.Addr, o.HTTPAddr)
	setStr(&cfg.Logging.Level, o.LogLevel)
	setStr(&cfg.Clock.Timezone, o.Timezone)
	setStr(&cfg.Clock.NTPServer, o.NTPServer)
	setStr(&cfg.Playback.Driver, o.PlaybackDriver)
	setStr(&cfg.Playback.MPD.Addr, o.MPDAddr)

	if o.TelegramToken != nil || o.TelegramChatID != nil {
		if cfg.Notify == nil {
			cfg.Notify = &NotifyConfig{Enabled: true}
		}
		setStr(&cfg.Notify.Token, o.TelegramToken)
		if o.TelegramChatID != nil {
			cfg.Notify.ChatID = *o.TelegramChatID
		}
	}
	if o.StorageDriver != nil || o.StoragePath != nil {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		setStr(&cfg.Storage.Driver, o.StorageDriver)
		setStr(&cfg.Storage.Path, o.StoragePath)
	}
	return nil
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
