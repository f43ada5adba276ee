// ABOUTME: Local microphone audio sent to every link
// ABOUTME: Encodes 20ms frames to Opus and writes them to one shared pion track
package peer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-jam/pkg/level"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const frameDuration = encode.FrameDurationMs * time.Millisecond

// OutboundTrack is the local audio track. Links share it; pion fans each
// sample out to every bound peer connection.
type OutboundTrack struct {
	track   *webrtc.TrackLocalStaticSample
	encoder encode.Encoder
	meter   *level.Processor

	mu      sync.Mutex // serializes WriteFrame
	silence []int32
	muted   atomic.Bool
	frames  atomic.Int64
}

// NewOutboundTrack creates the Opus track for streamID. meter may be nil.
func NewOutboundTrack(streamID string, format audio.Format, meter *level.Processor) (*OutboundTrack, error) {
	format.Codec = "opus"
	enc, err := encode.NewOpus(format)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(format.SampleRate),
			Channels:  uint16(format.Channels),
		},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	return &OutboundTrack{
		track:   track,
		encoder: enc,
		meter:   meter,
		silence: make([]int32, enc.FrameSize()*format.Channels),
	}, nil
}

// Track returns the pion track to add to peer connections
func (o *OutboundTrack) Track() webrtc.TrackLocal {
	return o.track
}

// FrameSamples returns the interleaved samples WriteFrame expects
func (o *OutboundTrack) FrameSamples() int {
	return len(o.silence)
}

// SetMuted sends silence instead of the microphone while muted
func (o *OutboundTrack) SetMuted(muted bool) {
	o.muted.Store(muted)
}

// Muted reports whether silence is being sent
func (o *OutboundTrack) Muted() bool {
	return o.muted.Load()
}

// Frames returns the number of frames written
func (o *OutboundTrack) Frames() int64 {
	return o.frames.Load()
}

// WriteFrame meters, encodes and sends one frame of working-range samples
func (o *OutboundTrack) WriteFrame(frame []int32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.muted.Load() {
		frame = o.silence
	}
	if o.meter != nil {
		_ = o.meter.Process(frame)
	}

	packet, err := o.encoder.Encode(frame)
	if err != nil {
		return err
	}
	if err := o.track.WriteSample(media.Sample{Data: packet, Duration: frameDuration}); err != nil {
		return fmt.Errorf("failed to write audio sample: %w", err)
	}
	o.frames.Add(1)
	return nil
}

// Close releases the encoder
func (o *OutboundTrack) Close() error {
	return o.encoder.Close()
}
