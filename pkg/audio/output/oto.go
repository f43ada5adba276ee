// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds the oto player from a Source through a 16-bit io.Reader
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// Oto output implementation using oto library. Oto allows one context
// per process, so a format change after the first Open is ignored.
type Oto struct {
	mu     sync.Mutex
	otoCtx *oto.Context
	player *oto.Player
	format audio.Format
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{}
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format, src Source) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if src == nil {
		return fmt.Errorf("output source is nil")
	}
	if format.BitDepth != 16 {
		log.Warnf("oto only supports 16-bit output, ignoring requested bit depth %d", format.BitDepth)
	}

	if o.otoCtx != nil && (o.format.SampleRate != format.SampleRate || o.format.Channels != format.Channels) {
		log.Warnf("oto cannot reinitialize (%s -> %s), keeping existing context", o.format, format)
		format = o.format
	}

	if o.otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-ready
		o.otoCtx = ctx
		o.format = format
	} else if err := o.otoCtx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	if o.player != nil {
		o.player.Close()
	}
	o.player = o.otoCtx.NewPlayer(newPCM16Reader(src, format.Channels))
	o.player.Play()

	log.Infof("Audio output initialized: %dHz, %d channels (oto)", format.SampleRate, format.Channels)
	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			log.Warnf("oto player close error: %v", err)
		}
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// pcm16Reader renders a Source into signed 16-bit little-endian bytes
type pcm16Reader struct {
	src      Source
	channels int
	scratch  []int32
}

func newPCM16Reader(src Source, channels int) *pcm16Reader {
	return &pcm16Reader{
		src:      src,
		channels: channels,
		scratch:  make([]int32, scratchFrames*channels),
	}
}

// Read always fills whole frames. A buffer smaller than one frame reads zero bytes.
func (r *pcm16Reader) Read(p []byte) (int, error) {
	frameBytes := 2 * r.channels
	frames := len(p) / frameBytes
	chunk := len(r.scratch) / r.channels

	for done := 0; done < frames; {
		n := frames - done
		if n > chunk {
			n = chunk
		}
		samples := r.scratch[:n*r.channels]
		r.src.Render(samples)
		packS16(p[done*frameBytes:], samples)
		done += n
	}
	return frames * frameBytes, nil
}
