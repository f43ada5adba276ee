// ABOUTME: MP3 track decoder
// ABOUTME: Decodes MP3 files to 16-bit stereo via go-mp3, widened to the working range
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

func decodeMP3(r io.Reader) (*audio.Clip, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	numSamples := len(data) / 2
	samples := make([]int32, numSamples)
	for i := 0; i < numSamples; i++ {
		sample16 := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = audio.SampleFromInt16(sample16)
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      CodecMP3,
			SampleRate: decoder.SampleRate(),
			Channels:   2,
			BitDepth:   audio.WorkingBitDepth,
		},
		Samples: samples,
	}, nil
}
