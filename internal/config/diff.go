package config

import (
	"reflect"
	"strings"

	logx "schoolbell/pkg/logx"
)

// Hot-reloadable sections; every other change needs a restart.
var hotSections = map[string]bool{"logging": true, "notify": true}

// Change describes the difference between two configs.
type Change struct {
	Sections        []string
	RestartRequired []string
	Fields          []logx.Field // safe for logs; never carries secrets
}

// SummarizeChange compares configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !hotSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		mark("http", logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Clock, newCfg.Clock) {
		mark("clock",
			logx.String("clock.timezone", newCfg.Clock.Timezone),
			logx.String("clock.ntp_server", newCfg.Clock.NTPServer),
			logx.String("clock.resync", newCfg.Clock.Resync),
		)
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		mark("engine", logx.String("engine.tick_interval", newCfg.Engine.TickInterval))
	}
	if oldCfg.Playback != newCfg.Playback {
		mark("playback", logx.String("playback.driver", newCfg.Playback.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", logx.String("storage.driver", driver))
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		n := newCfg.Notify
		if n == nil {
			n = &NotifyConfig{}
		}
		mark("notify",
			logx.Bool("notify.enabled", n.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(n.Token) != ""),
			logx.Int("notify.events", len(n.Events)),
			logx.Int("notify.rate_per_min", n.RatePerMin),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd", logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		mark("schedule", logx.Int("schedule.rows", len(newCfg.Schedule)))
	}
	return ch
}
