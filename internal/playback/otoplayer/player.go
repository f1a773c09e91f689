// Package otoplayer plays WAV bell tracks on the local sound card via oto.
package otoplayer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "schoolbell/pkg/logx"
)

const (
	DefaultPattern    = "%03d.wav"
	DefaultSampleRate = 44100
	DefaultChannels   = 2

	maxLevel = 30
)

// ErrNotBuilt is returned when the binary was built without the oto tag.
var ErrNotBuilt = errors.New("oto playback not built: build with -tags oto (needs cgo and ALSA on linux)")

type Config struct {
	Dir        string
	Pattern    string
	SampleRate int
	Channels   int
}

// voice is the subset of *oto.Player in use.
type voice interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(v float64)
	Close() error
}

// device opens voices. The real one wraps a single process-wide oto.Context.
type device interface {
	NewVoice(r io.Reader) voice
}

// Player keeps at most one voice alive: a new Play replaces the current one.
type Player struct {
	cfg Config
	fs  afero.Fs
	log logx.Logger

	openDevice func(Config) (device, error)

	mu     sync.Mutex
	dev    device
	devErr error
	opened bool
	active voice
	volume float64
}

func New(cfg Config, fs afero.Fs, log logx.Logger) *Player {
	if strings.TrimSpace(cfg.Pattern) == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Player{cfg: cfg, fs: fs, log: log, openDevice: openOto, volume: 1}
}

// Path is the file a track number resolves to.
func (p *Player) Path(track int) string {
	return filepath.Join(p.cfg.Dir, fmt.Sprintf(p.cfg.Pattern, track))
}

func (p *Player) Play(ctx context.Context, track int) error {
	path := p.Path(track)
	raw, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	format, pcm, err := decodeWAV(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if format.AudioFormat != 1 || format.BitsPerSample != 16 ||
		format.SampleRate != p.cfg.SampleRate || format.Channels != p.cfg.Channels {
		return fmt.Errorf("%s: %w: want 16-bit PCM %dHz/%dch, got fmt=%d %d-bit %dHz/%dch",
			path, ErrBadWAV, p.cfg.SampleRate, p.cfg.Channels,
			format.AudioFormat, format.BitsPerSample, format.SampleRate, format.Channels)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	dev, err := p.deviceLocked()
	if err != nil {
		return err
	}
	p.releaseLocked()

	v := dev.NewVoice(bytes.NewReader(pcm))
	v.SetVolume(p.volume)
	v.Play()
	p.active = v
	p.log.Debug("oto: playing", logx.String("path", path), logx.Int("bytes", len(pcm)))
	return nil
}

func (p *Player) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
	return nil
}

func (p *Player) SetVolume(_ context.Context, level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = scale(level)
	if p.active != nil {
		p.active.SetVolume(p.volume)
	}
	return nil
}

// Playing reports whether a voice is still producing sound.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && p.active.IsPlaying()
}

// deviceLocked opens the sound card once; oto allows a single context per
// process, so a failure is remembered.
func (p *Player) deviceLocked() (device, error) {
	if !p.opened {
		p.opened = true
		p.dev, p.devErr = p.openDevice(p.cfg)
		if p.devErr != nil {
			p.log.Warn("oto: audio device unavailable", logx.Err(p.devErr))
		}
	}
	return p.dev, p.devErr
}

func (p *Player) releaseLocked() {
	if p.active == nil {
		return
	}
	p.active.Pause()
	if err := p.active.Close(); err != nil {
		p.log.Debug("oto: close voice failed", logx.Err(err))
	}
	p.active = nil
}

func scale(level int) float64 {
	switch {
	case level <= 0:
		return 0
	case level >= maxLevel:
		return 1
	}
	return float64(level) / maxLevel
}
