// ABOUTME: FLAC track decoder
// ABOUTME: Decodes FLAC files frame by frame via mewkiz/flac
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/mewkiz/flac"
)

func decodeFLAC(r io.Reader) (*audio.Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)
	samples := make([]int32, 0, int(stream.Info.NSamples)*channels)

	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse flac frame: %w", err)
		}
		if len(frame.Subframes) != channels {
			return nil, fmt.Errorf("flac frame has %d subframes, expected %d", len(frame.Subframes), channels)
		}

		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, audio.ToWorking(frame.Subframes[ch].Samples[i], bitDepth))
			}
		}
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      CodecFLAC,
			SampleRate: int(stream.Info.SampleRate),
			Channels:   channels,
			BitDepth:   audio.WorkingBitDepth,
		},
		Samples: samples,
	}, nil
}
