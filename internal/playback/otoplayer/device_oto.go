//go:build oto
// +build oto

package otoplayer

import (
	"io"

	"github.com/ebitengine/oto/v3"
)

// Available reports whether the sound card backend is compiled in.
const Available = true

type otoDevice struct{ ctx *oto.Context }

func (d otoDevice) NewVoice(r io.Reader) voice { return d.ctx.NewPlayer(r) }

func openOto(cfg Config) (device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	return otoDevice{ctx: ctx}, nil
}
