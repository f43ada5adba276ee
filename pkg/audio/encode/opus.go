// ABOUTME: Opus encoder for outbound live links
// ABOUTME: Encodes fixed 20ms frames of working-range samples with libopus
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const (
	// FrameDurationMs is the packet duration used on live links
	FrameDurationMs = 20

	// maxPacketSize is the largest Opus packet libopus will emit
	maxPacketSize = 4000
)

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	channels  int
	frameSize int // samples per channel per frame
	pcm       []int16
	packet    []byte
}

var _ Encoder = (*OpusEncoder)(nil)

// NewOpus creates a new Opus encoder tuned for music at 64 kbps per channel
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := encoder.SetBitrate(64000 * format.Channels); err != nil {
		log.Warnf("Failed to set Opus bitrate: %v", err)
	}

	frameSize := format.SampleRate * FrameDurationMs / 1000

	return &OpusEncoder{
		encoder:   encoder,
		channels:  format.Channels,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*format.Channels),
		packet:    make([]byte, maxPacketSize),
	}, nil
}

// FrameSize returns samples per channel expected by Encode
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Encode converts one frame to an Opus packet. Short frames are padded
// with silence. The returned slice is reused by the next call.
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) > len(e.pcm) {
		return nil, fmt.Errorf("frame too large: %d samples, max %d", len(samples), len(e.pcm))
	}

	for i, sample := range samples {
		e.pcm[i] = audio.SampleToInt16(sample)
	}
	for i := len(samples); i < len(e.pcm); i++ {
		e.pcm[i] = 0
	}

	n, err := e.encoder.Encode(e.pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return e.packet[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
