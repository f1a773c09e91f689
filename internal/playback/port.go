// Package playback abstracts the audio device the controller drives.
//
// Commands are fire-and-forget: a backend reports failures to its caller,
// but nothing upstream retries or blocks on them.
package playback

import (
	"context"
	"errors"
	"strings"

	logx "schoolbell/pkg/logx"
)

var ErrDeviceUnavailable = errors.New("playback device unavailable")

// Port is the capability the engine drives. Volume levels are 0..30.
type Port interface {
	Play(ctx context.Context, track int) error
	Stop(ctx context.Context) error
	SetVolume(ctx context.Context, level int) error
}

// MaxLevel is the top of the device volume scale.
const MaxLevel = 30

// NormalizeDriver lowercases and defaults the driver name.
func NormalizeDriver(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "none"
	}
	return s
}

// Discard accepts every command and only logs it.
type Discard struct {
	Log logx.Logger
}

func (d Discard) Play(_ context.Context, track int) error {
	d.Log.Debug("discard: play", logx.Int("track", track))
	return nil
}

func (d Discard) Stop(context.Context) error {
	d.Log.Debug("discard: stop")
	return nil
}

func (d Discard) SetVolume(_ context.Context, level int) error {
	d.Log.Debug("discard: volume", logx.Int("level", level))
	return nil
}
