//go:build !oto
// +build !oto

package otoplayer

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"

	logx "schoolbell/pkg/logx"
)

func TestPlayWithoutOtoBuild(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/bells/001.wav", makeWAV(44100, 2, 16, []byte{1, 1}, false), 0o644)
	p := New(Config{Dir: "/bells"}, fs, logx.Nop())
	if err := p.Play(context.Background(), 1); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("err = %v, want ErrNotBuilt", err)
	}
}
