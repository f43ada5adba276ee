// ABOUTME: Audio type definitions shared by the live and offline paths
// ABOUTME: Formats, decoded clips, sample range clamping and the stereo pan law
package audio

import (
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// 16-bit audio range constants
	Max16Bit = 32767
	Min16Bit = -32768

	// WorkingBitDepth is the range every decoded clip is normalized into
	WorkingBitDepth = 24
)

// Format describes an audio stream or file layout
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// SameLayout reports whether two formats can be summed sample for sample
func (f Format) SameLayout(o Format) bool {
	return f.SampleRate == o.SampleRate && f.Channels == o.Channels && f.BitDepth == o.BitDepth
}

// Clip is a fully decoded source. Samples are interleaved and immutable
// once the clip has been handed to an engine.
type Clip struct {
	Format  Format
	Samples []int32
}

// Frames returns the number of sample frames in the clip
func (c *Clip) Frames() int {
	if c == nil || c.Format.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playback length of the clip
func (c *Clip) Duration() time.Duration {
	if c == nil {
		return 0
	}
	return FramesToDuration(int64(c.Frames()), c.Format.SampleRate)
}

// FramesToDuration converts a frame count at rate to wall time
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// DurationToFrames converts wall time to a frame count at rate
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}

// SampleRange returns the representable integer range of a bit depth
func SampleRange(bitDepth int) (min, max int64) {
	switch {
	case bitDepth <= 0 || bitDepth >= 32:
		return math.MinInt32, math.MaxInt32
	default:
		max = int64(1)<<(bitDepth-1) - 1
		return -max - 1, max
	}
}

// Clamp limits v to the range of bitDepth without wraparound
func Clamp(v int64, bitDepth int) int32 {
	lo, hi := SampleRange(bitDepth)
	if v > hi {
		return int32(hi)
	}
	if v < lo {
		return int32(lo)
	}
	return int32(v)
}

// ClampFloat rounds v to the nearest integer and clamps it to bitDepth
func ClampFloat(v float64, bitDepth int) int32 {
	lo, hi := SampleRange(bitDepth)
	r := math.Round(v)
	if r >= float64(hi) {
		return int32(hi)
	}
	if r <= float64(lo) {
		return int32(lo)
	}
	return int32(r)
}

// ClampRange limits a continuous control value to [lo, hi]. NaN maps to lo.
func ClampRange(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToWorking shifts a sample of the given bit depth into the 24-bit working range
func ToWorking(sample int32, bitDepth int) int32 {
	switch {
	case bitDepth == WorkingBitDepth:
		return sample
	case bitDepth < WorkingBitDepth:
		return sample << (WorkingBitDepth - bitDepth)
	default:
		return sample >> (bitDepth - WorkingBitDepth)
	}
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// StereoGains maps an input stereo frame to an output stereo frame:
//
//	outL = inL*LL + inR*RL
//	outR = inL*LR + inR*RR
type StereoGains struct {
	LL, RL, LR, RR float64
}

// Silent reports whether the gains mute the frame entirely
func (g StereoGains) Silent() bool {
	return g.LL == 0 && g.RL == 0 && g.LR == 0 && g.RR == 0
}

// PanGains folds volume and a stereo-panner style pan position into a gain
// matrix. Pan 0 is the identity scaled by volume; panning left folds the
// right channel into the left and attenuates the right, and vice versa.
func PanGains(volume, pan float64) StereoGains {
	volume = ClampRange(volume, 0, 1)
	pan = ClampRange(pan, -1, 1)

	if pan == 0 {
		return StereoGains{LL: volume, RR: volume}
	}

	if pan < 0 {
		x := (pan + 1) * math.Pi / 2
		return StereoGains{
			LL: volume,
			RL: volume * math.Cos(x),
			RR: volume * math.Sin(x),
		}
	}

	x := pan * math.Pi / 2
	return StereoGains{
		LL: volume * math.Cos(x),
		LR: volume * math.Sin(x),
		RR: volume,
	}
}
