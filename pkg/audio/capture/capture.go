// ABOUTME: Microphone capture through malgo into a lock-free ring
// ABOUTME: A pump goroutine drains the ring in fixed-size codec frames
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/ring"
	"github.com/gen2brain/malgo"
)

const callbackFrames = 4096

// Config describes the capture stream
type Config struct {
	SampleRate int
	Channels   int
	FrameMs    int // size of the frames handed to Run
	BufferMs   int // ring capacity
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.BufferMs < c.FrameMs*4 {
		c.BufferMs = c.FrameMs * 4
	}
	return c
}

// Capture records 16-bit input and exposes it as 24-bit working samples
type Capture struct {
	config Config
	ring   *ring.Ring[int32]

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	// callback-owned
	scratch []int32

	overruns atomic.Int64
}

// New creates a capture with an empty ring. Start opens the device.
func New(config Config) *Capture {
	config = config.withDefaults()
	return &Capture{
		config:  config,
		ring:    ring.New[int32](config.SampleRate * config.Channels * config.BufferMs / 1000),
		scratch: make([]int32, callbackFrames*config.Channels),
	}
}

// Format returns the working format of captured frames
func (c *Capture) Format() audio.Format {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: c.config.SampleRate,
		Channels:   c.config.Channels,
		BitDepth:   audio.WorkingBitDepth,
	}
}

// FrameSamples is the interleaved sample count of one frame
func (c *Capture) FrameSamples() int {
	return c.config.SampleRate * c.config.FrameMs / 1000 * c.config.Channels
}

// Overruns counts samples dropped because the ring was full
func (c *Capture) Overruns() int64 {
	return c.overruns.Load()
}

// Start opens the default capture device
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.config.Channels)
	deviceConfig.SampleRate = uint32(c.config.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			c.push(pInput)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.malgoCtx = ctx
	c.device = device
	log.Infof("Audio capture started: %dHz, %d channels", c.config.SampleRate, c.config.Channels)
	return nil
}

// push converts little-endian S16 bytes and queues them
func (c *Capture) push(in []byte) {
	for len(in) >= 2 {
		n := len(in) / 2
		if n > len(c.scratch) {
			n = len(c.scratch)
		}
		for i := 0; i < n; i++ {
			c.scratch[i] = audio.SampleFromInt16(int16(uint16(in[i*2]) | uint16(in[i*2+1])<<8))
		}
		if written := c.ring.Write(c.scratch[:n]); written < n {
			c.overruns.Add(int64(n - written))
		}
		in = in[n*2:]
	}
}

// Run hands every complete frame to fn until ctx is done. The frame slice
// is reused between calls.
func (c *Capture) Run(ctx context.Context, fn func(frame []int32)) {
	frame := make([]int32, c.FrameSamples())
	interval := time.Duration(c.config.FrameMs) * time.Millisecond / 2

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for c.ring.Len() >= len(frame) {
			c.ring.Read(frame)
			fn(frame)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the device
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			log.Warnf("capture device stop error: %v", err)
		}
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoCtx != nil {
		if err := c.malgoCtx.Uninit(); err != nil {
			log.Warnf("malgo context uninit error: %v", err)
		}
		c.malgoCtx.Free()
		c.malgoCtx = nil
	}
	return nil
}
