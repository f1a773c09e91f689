package playback

import (
	"fmt"
	"time"

	"github.com/spf13/afero"

	"schoolbell/internal/playback/mpdplayer"
	"schoolbell/internal/playback/otoplayer"
	logx "schoolbell/pkg/logx"
)

// Config selects and configures a backend.
type Config struct {
	Driver         string // none|mpd|oto
	CommandTimeout time.Duration

	MPD mpdplayer.Config
	Oto otoplayer.Config
}

// Open builds the configured backend wrapped in a Guarded.
func Open(cfg Config, fs afero.Fs, log logx.Logger) (*Guarded, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := NormalizeDriver(cfg.Driver)
	log = log.With(logx.String("comp", "playback"), logx.String("driver", driver))

	var port Port
	switch driver {
	case "none":
		port = Discard{Log: log}
	case "mpd":
		port = mpdplayer.New(cfg.MPD, log)
	case "oto":
		if !otoplayer.Available {
			return nil, fmt.Errorf("playback driver %q: %w", driver, otoplayer.ErrNotBuilt)
		}
		if fs == nil {
			fs = afero.NewOsFs()
		}
		port = otoplayer.New(cfg.Oto, fs, log)
	default:
		return nil, fmt.Errorf("unknown playback driver %q", cfg.Driver)
	}
	return NewGuarded(port, cfg.CommandTimeout, log), nil
}
