// ABOUTME: Streaming WAV inputs for the mixdown
// ABOUTME: Opens, validates and reads fixed-size chunks from each track
package mixdown

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

type input struct {
	index   int
	track   Track
	file    *os.File
	decoder *wav.Decoder
	format  audio.Format
	volume  float64
	gains   audio.StereoGains
	buf     []int
}

func openInput(index int, track Track) (*input, error) {
	f, err := os.Open(track.Path)
	if err != nil {
		return nil, fmt.Errorf("track %d: failed to open input: %w", index, err)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("track %d (%s): not a valid wav file", index, track.Path)
	}
	if d.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, fmt.Errorf("track %d (%s): unsupported wav encoding %d", index, track.Path, d.WavAudioFormat)
	}

	format := audio.Format{
		Codec:      "wav",
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	switch format.BitDepth {
	case 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("track %d (%s): unsupported bit depth %d", index, track.Path, format.BitDepth)
	}

	return &input{
		index:   index,
		track:   track,
		file:    f,
		decoder: d,
		format:  format,
		volume:  audio.ClampRange(track.Volume, 0, 1),
		gains:   audio.PanGains(track.Volume, track.Pan),
	}, nil
}

// read fills the input's buffer with up to len(buf) samples and returns
// the count. Zero means the stream has ended.
func (in *input) read(samples int) (int, error) {
	if cap(in.buf) < samples {
		in.buf = make([]int, samples)
	}
	in.buf = in.buf[:samples]

	filled := 0
	for filled < samples {
		chunk := &goaudio.IntBuffer{Data: in.buf[filled:]}
		n, err := in.decoder.PCMBuffer(chunk)
		if err != nil {
			return filled, fmt.Errorf("track %d (%s): read failed: %w", in.index, in.track.Path, err)
		}
		if n <= 0 {
			break
		}
		filled += n
	}
	// only whole frames take part in the mix
	filled -= filled % in.format.Channels
	return filled, nil
}

func (in *input) Close() error {
	return in.file.Close()
}
