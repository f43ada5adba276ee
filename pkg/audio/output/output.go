// ABOUTME: Pull-based audio output interfaces and the summing bus
// ABOUTME: Devices ask a Source for samples from their own callback thread
package output

import (
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
)

// Source fills dst with interleaved 24-bit samples. Render runs on the
// device callback thread and must not block or allocate.
type Source interface {
	Render(dst []int32)
}

// SourceFunc adapts a plain function to Source
type SourceFunc func(dst []int32)

func (f SourceFunc) Render(dst []int32) { f(dst) }

// Output represents an audio output device
type Output interface {
	// Open starts the device and begins pulling from src
	Open(format audio.Format, src Source) error

	// Close stops the device and releases its resources
	Close() error
}

// scratchFrames bounds the per-callback working buffers. Larger device
// periods are rendered in several passes.
const scratchFrames = 4096

type busInput struct {
	id  uint64
	src Source
}

// Bus sums any number of sources into one stream with a master volume.
// Membership changes swap an immutable slice so Render never locks.
type Bus struct {
	channels int
	inputs   atomic.Pointer[[]busInput]
	nextID   uint64
	mu       sync.Mutex // serializes membership edits

	volume atomic.Int32 // 0-100
	muted  atomic.Bool

	scratch []int32
	acc     []int64
}

// NewBus creates a bus for interleaved streams with the given channel count
func NewBus(channels int) *Bus {
	if channels <= 0 {
		channels = 2
	}
	b := &Bus{
		channels: channels,
		scratch:  make([]int32, scratchFrames*channels),
		acc:      make([]int64, scratchFrames*channels),
	}
	empty := []busInput{}
	b.inputs.Store(&empty)
	b.volume.Store(100)
	return b
}

// Add attaches a source and returns a function that detaches it
func (b *Bus) Add(src Source) (remove func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	cur := *b.inputs.Load()
	next := make([]busInput, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, busInput{id: id, src: src})
	b.inputs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.inputs.Load()
	next := make([]busInput, 0, len(cur))
	for _, in := range cur {
		if in.id != id {
			next = append(next, in)
		}
	}
	b.inputs.Store(&next)
}

// Len returns the number of attached sources
func (b *Bus) Len() int {
	return len(*b.inputs.Load())
}

// SetVolume sets the master volume (0-100)
func (b *Bus) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	b.volume.Store(int32(volume))
}

// Volume returns the master volume
func (b *Bus) Volume() int {
	return int(b.volume.Load())
}

// SetMuted sets the master mute state
func (b *Bus) SetMuted(muted bool) {
	b.muted.Store(muted)
}

// Muted returns the master mute state
func (b *Bus) Muted() bool {
	return b.muted.Load()
}

// Render sums every attached source into dst, clamped to 24-bit
func (b *Bus) Render(dst []int32) {
	for len(dst) > 0 {
		n := len(dst)
		if n > len(b.scratch) {
			n = len(b.scratch)
		}
		b.renderChunk(dst[:n])
		dst = dst[n:]
	}
}

func (b *Bus) renderChunk(dst []int32) {
	if b.muted.Load() {
		clear(dst)
		return
	}

	acc := b.acc[:len(dst)]
	clear(acc)

	scratch := b.scratch[:len(dst)]
	for _, in := range *b.inputs.Load() {
		clear(scratch)
		in.src.Render(scratch)
		for i, s := range scratch {
			acc[i] += int64(s)
		}
	}

	volume := int64(b.volume.Load())
	for i, v := range acc {
		if volume != 100 {
			v = v * volume / 100
		}
		dst[i] = audio.Clamp(v, audio.WorkingBitDepth)
	}
}
