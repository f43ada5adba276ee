// ABOUTME: Malgo-based audio output with 16, 24 and 32-bit device formats
// ABOUTME: Pulls samples from a Source inside the miniaudio data callback
package output

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	src      Source

	// callback-owned
	scratch []int32

	frames atomic.Int64
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Open initializes the playback device and starts pulling from src
func (m *Malgo) Open(format audio.Format, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src == nil {
		return fmt.Errorf("output source is nil")
	}

	if m.device != nil {
		log.Infof("Output format change %s -> %s, reinitializing device", m.format, format)
		m.closeDevice()
	}

	var deviceFormat malgo.FormatType
	switch format.BitDepth {
	case 16:
		deviceFormat = malgo.FormatS16
	case 24:
		deviceFormat = malgo.FormatS24
	case 32:
		deviceFormat = malgo.FormatS32
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", format.BitDepth)
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	m.format = format
	m.src = src
	m.scratch = make([]int32, scratchFrames*format.Channels)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = deviceFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			m.dataCallback(pOutput, int(frameCount))
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.device = device

	log.Infof("Audio output initialized: %s (malgo/%s)", format, formatName(deviceFormat))
	return nil
}

// dataCallback renders frameCount frames into the device buffer
func (m *Malgo) dataCallback(out []byte, frameCount int) {
	channels := m.format.Channels
	width := bytesPerSample(m.format.BitDepth) * channels
	chunk := len(m.scratch) / channels

	for done := 0; done < frameCount; {
		n := frameCount - done
		if n > chunk {
			n = chunk
		}
		samples := m.scratch[:n*channels]
		m.src.Render(samples)
		pack(out[done*width:], samples, m.format.BitDepth)
		done += n
	}
	m.frames.Add(int64(frameCount))
}

// FramesPlayed returns the number of frames handed to the device
func (m *Malgo) FramesPlayed() int64 {
	return m.frames.Load()
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Warnf("malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		log.Warnf("device stop error: %v", err)
	}
	m.device.Uninit()
	m.device = nil
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
