//go:build !oto
// +build !oto

package otoplayer

const Available = false

func openOto(Config) (device, error) {
	return nil, ErrNotBuilt
}
