// ABOUTME: Opus packet decoder for inbound live links
// ABOUTME: Decodes Opus frames into reusable working-range buffers
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is the largest frame Opus produces (120ms at 48kHz)
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm16   []int16
	pcm32   []int32
}

var _ Decoder = (*OpusDecoder)(nil)

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (*OpusDecoder, error) {
	if format.Codec != CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm16:   make([]int16, maxOpusFrame*format.Channels),
		pcm32:   make([]int32, maxOpusFrame*format.Channels),
	}, nil
}

// Decode converts one Opus packet to int32 samples. The returned slice is
// reused by the next call.
func (d *OpusDecoder) Decode(data []byte) ([]int32, error) {
	n, err := d.decoder.Decode(data, d.pcm16)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	actual := n * d.format.Channels
	for i := 0; i < actual; i++ {
		d.pcm32[i] = audio.SampleFromInt16(d.pcm16[i])
	}
	return d.pcm32[:actual], nil
}

// Format returns the decoded stream format
func (d *OpusDecoder) Format() audio.Format {
	return d.format
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
