package otoplayer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrBadWAV = errors.New("not a usable WAV file")

type wavFormat struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// decodeWAV walks the RIFF chunks and returns the fmt header and the PCM
// payload of the data chunk.
func decodeWAV(b []byte) (wavFormat, []byte, error) {
	var f wavFormat
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return f, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrBadWAV)
	}

	haveFmt := false
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return f, nil, fmt.Errorf("%w: short fmt chunk", ErrBadWAV)
			}
			f.AudioFormat = binary.LittleEndian.Uint16(b[body:])
			f.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return f, nil, fmt.Errorf("%w: data before fmt", ErrBadWAV)
			}
			end := body + size
			if end > len(b) {
				end = len(b)
			}
			return f, b[body:end], nil
		}

		pos = body + size
		// Chunks are word-aligned.
		if size%2 != 0 {
			pos++
		}
	}
	return f, nil, fmt.Errorf("%w: data chunk not found", ErrBadWAV)
}
