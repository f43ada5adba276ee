// ABOUTME: Linear-interpolation sample rate conversion
// ABOUTME: Whole-clip conversion for track loading and a streaming form for live monitors
package resample

// Resampler converts a continuous interleaved stream between sample rates.
// It carries the last input frame across calls so chunk boundaries do not
// click.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // fractional read position relative to lastFrame
	lastFrame  []int32
	primed     bool
}

// New creates a new streaming resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int32, channels),
	}
}

// Resample converts input into output and returns the number of samples
// written. output should hold at least OutputSamplesNeeded(len(input)) plus
// one frame.
func (r *Resampler) Resample(input []int32, output []int32) int {
	if len(input) == 0 {
		return 0
	}
	if r.inputRate == r.outputRate {
		return copy(output, input)
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels

	// frame -1 is the carried lastFrame; frames 0..n-1 are this chunk
	frameAt := func(idx, ch int) int32 {
		if idx < 0 {
			if !r.primed {
				return input[ch]
			}
			return r.lastFrame[ch]
		}
		return input[idx*r.channels+ch]
	}

	outIdx := 0
	for outIdx < outputFrames {
		base := int(r.position) - 1
		if base+1 >= inputFrames {
			break
		}
		frac := r.position - float64(int(r.position))

		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(frameAt(base, ch))
			s2 := float64(frameAt(base+1, ch))
			output[outIdx*r.channels+ch] = int32(s1*(1-frac) + s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	copy(r.lastFrame, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.primed = true
	r.position -= float64(inputFrames)
	if r.position < 0 {
		r.position = 0
	}

	return outIdx * r.channels
}

// Reset clears carried state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded estimates how many output samples input will produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// Clip converts a complete interleaved buffer from one rate to another.
// The output spans the same duration as the input.
func Clip(samples []int32, channels, fromRate, toRate int) []int32 {
	if fromRate == toRate || len(samples) == 0 || channels <= 0 {
		out := make([]int32, len(samples))
		copy(out, samples)
		return out
	}

	inFrames := len(samples) / channels
	outFrames := int((int64(inFrames)*int64(toRate) + int64(fromRate) - 1) / int64(fromRate))
	out := make([]int32, outFrames*channels)
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if idx >= inFrames-1 {
			idx = inFrames - 1
			next = idx
			frac = 0
		}
		for ch := 0; ch < channels; ch++ {
			s1 := float64(samples[idx*channels+ch])
			s2 := float64(samples[next*channels+ch])
			out[i*channels+ch] = int32(s1*(1-frac) + s2*frac)
		}
	}
	return out
}
