// ABOUTME: Real-time loudness meter for the audio rendering path
// ABOUTME: Applies gain, measures smoothed RMS and reports it lock-free at a bounded rate
package level

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/ring"
)

const (
	DefaultSmoothing = 0.8
	DefaultGain      = 1.0
	DefaultReportHz  = 30.0

	MaxSmoothing = 0.99
	MaxGain      = 2.0

	// fullScale normalizes working-range samples to [-1, 1]
	fullScale = float64(audio.Max24Bit + 1)

	reportSlots = 64
)

// Config holds processor configuration
type Config struct {
	SampleRate int
	Channels   int
	Smoothing  float64 // α of the single-pole filter, clamped to [0, 0.99]
	Gain       float64 // linear gain applied before measuring, clamped to [0, 2]
	ReportHz   float64 // upper bound on reports per second
}

// Processor meters interleaved working-range buffers. Process runs on the
// real-time path: it never allocates, locks or blocks. Setters and the
// report side are safe to call from any other single goroutine.
type Processor struct {
	channels    int
	reportEvery int
	reportHz    float64

	// shared with the control side as float64 bits
	smoothing atomic.Uint64
	gain      atomic.Uint64
	current   atomic.Uint64

	// owned by the rendering goroutine
	smoothed    float64
	sinceReport int
	sumSquares  []float64

	reports *ring.Ring[float64]
}

// New creates a processor, filling in defaults for zero config values
func New(config Config) *Processor {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.ReportHz <= 0 {
		config.ReportHz = DefaultReportHz
	}

	reportEvery := int(float64(config.SampleRate) / config.ReportHz)
	if reportEvery < 1 {
		reportEvery = 1
	}

	if config.Smoothing == 0 {
		config.Smoothing = DefaultSmoothing
	}
	if config.Gain == 0 {
		config.Gain = DefaultGain
	}

	p := &Processor{
		channels:    config.Channels,
		reportEvery: reportEvery,
		reportHz:    config.ReportHz,
		sumSquares:  make([]float64, config.Channels),
		reports:     ring.New[float64](reportSlots),
	}
	p.SetSmoothing(config.Smoothing)
	p.SetGain(config.Gain)
	return p
}

// SetSmoothing sets α, clamped to [0, 0.99]
func (p *Processor) SetSmoothing(alpha float64) {
	p.smoothing.Store(math.Float64bits(audio.ClampRange(alpha, 0, MaxSmoothing)))
}

// Smoothing returns the current α
func (p *Processor) Smoothing() float64 {
	return math.Float64frombits(p.smoothing.Load())
}

// SetGain sets the linear gain, clamped to [0, 2]
func (p *Processor) SetGain(gain float64) {
	p.gain.Store(math.Float64bits(audio.ClampRange(gain, 0, MaxGain)))
}

// Gain returns the current linear gain
func (p *Processor) Gain() float64 {
	return math.Float64frombits(p.gain.Load())
}

// Process applies gain to buf in place and updates the smoothed level.
// A nil buffer is a successful no-op so the rendering path stays alive.
func (p *Processor) Process(buf []int32) error {
	if buf == nil {
		return nil
	}
	frames := len(buf) / p.channels
	if frames == 0 {
		return nil
	}

	gain := math.Float64frombits(p.gain.Load())
	alpha := math.Float64frombits(p.smoothing.Load())

	for ch := range p.sumSquares {
		p.sumSquares[ch] = 0
	}

	for i := 0; i < frames*p.channels; i++ {
		if gain != 1 {
			buf[i] = audio.ClampFloat(float64(buf[i])*gain, audio.WorkingBitDepth)
		}
		s := float64(buf[i]) / fullScale
		p.sumSquares[i%p.channels] += s * s
	}

	var instantaneous float64
	for _, sum := range p.sumSquares {
		instantaneous += math.Sqrt(sum / float64(frames))
	}
	instantaneous /= float64(p.channels)

	p.smoothed = p.smoothed*alpha + instantaneous*(1-alpha)
	p.current.Store(math.Float64bits(p.smoothed))

	p.sinceReport += frames
	if p.sinceReport >= p.reportEvery {
		p.sinceReport %= p.reportEvery
		// a full ring means the reader is behind; the next report carries a fresher value
		p.reports.Push(p.smoothed)
	}
	return nil
}

// Level returns the most recent smoothed level regardless of rate limiting
func (p *Processor) Level() float64 {
	return math.Float64frombits(p.current.Load())
}

// Poll drains pending reports and returns the newest one
func (p *Processor) Poll() (float64, bool) {
	return p.reports.Latest()
}

// Run delivers reports to fn until ctx is done. fn runs on the calling
// goroutine, never on the rendering path.
func (p *Processor) Run(ctx context.Context, fn func(level float64)) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / p.reportHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lvl, ok := p.Poll(); ok {
				fn(lvl)
			}
		}
	}
}

// Source renders interleaved samples into dst
type Source interface {
	Render(dst []int32)
}

// Tap meters the output of a source before it reaches the device
type Tap struct {
	src  Source
	proc *Processor
}

// NewTap wraps src so every rendered buffer passes through proc
func NewTap(src Source, proc *Processor) *Tap {
	return &Tap{src: src, proc: proc}
}

// Render renders the wrapped source and meters the result
func (t *Tap) Render(dst []int32) {
	t.src.Render(dst)
	_ = t.proc.Process(dst)
}
