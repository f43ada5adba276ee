// ABOUTME: WAV track decoder
// ABOUTME: Decodes integer PCM WAV files via go-audio/wav
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag; float and compressed WAVs are rejected
const wavFormatPCM = 1

func decodeWAV(r io.ReadSeeker) (*audio.Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("unsupported wav encoding: %d", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	bitDepth := int(d.BitDepth)
	samples := make([]int32, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		samples[i] = audio.ToWorking(int32(v), bitDepth)
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      CodecWAV,
			SampleRate: int(d.SampleRate),
			Channels:   int(d.NumChans),
			BitDepth:   audio.WorkingBitDepth,
		},
		Samples: samples,
	}, nil
}
