// Package mpdplayer drives a Music Player Daemon as the bell's audio output.
// Each command dials a short-lived client, which keeps the controller
// indifferent to mpd restarts.
package mpdplayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/fhs/gompd/v2/mpd"

	logx "schoolbell/pkg/logx"
)

const (
	DefaultNetwork = "tcp"
	DefaultAddr    = "127.0.0.1:6600"
	DefaultPattern = "%03d.mp3"

	maxLevel = 30
)

type Config struct {
	Network  string // tcp|unix
	Addr     string
	Password string
	Pattern  string // fmt pattern mapping a track number to a library URI
}

// client is the subset of *mpd.Client the player uses.
type client interface {
	Clear() error
	Add(uri string) error
	Play(pos int) error
	Stop() error
	SetVolume(volume int) error
	Close() error
}

type dialFunc func(network, addr, password string) (client, error)

type Player struct {
	cfg  Config
	log  logx.Logger
	dial dialFunc
}

func New(cfg Config, log logx.Logger) *Player {
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = DefaultNetwork
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.Pattern) == "" {
		cfg.Pattern = DefaultPattern
	}
	return &Player{cfg: cfg, log: log, dial: dialMPD}
}

func dialMPD(network, addr, password string) (client, error) {
	var (
		c   *mpd.Client
		err error
	)
	if password != "" {
		c, err = mpd.DialAuthenticated(network, addr, password)
	} else {
		c, err = mpd.Dial(network, addr)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// URI maps a track number onto the library path for it.
func (p *Player) URI(track int) string {
	return fmt.Sprintf(p.cfg.Pattern, track)
}

func (p *Player) Play(ctx context.Context, track int) error {
	uri := p.URI(track)
	return p.do(ctx, func(c client) error {
		if err := c.Clear(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if err := c.Add(uri); err != nil {
			return fmt.Errorf("add %s: %w", uri, err)
		}
		return c.Play(0)
	})
}

func (p *Player) Stop(ctx context.Context) error {
	return p.do(ctx, func(c client) error { return c.Stop() })
}

func (p *Player) SetVolume(ctx context.Context, level int) error {
	return p.do(ctx, func(c client) error { return c.SetVolume(scale(level)) })
}

func (p *Player) do(ctx context.Context, fn func(c client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := p.dial(p.cfg.Network, p.cfg.Addr, p.cfg.Password)
	if err != nil {
		return fmt.Errorf("mpd dial %s: %w", p.cfg.Addr, err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			p.log.Debug("mpd close failed", logx.Err(cerr))
		}
	}()
	return fn(c)
}

// scale maps 0..30 onto mpd's 0..100.
func scale(level int) int {
	switch {
	case level <= 0:
		return 0
	case level >= maxLevel:
		return 100
	}
	return (level*100 + maxLevel/2) / maxLevel
}
