// ABOUTME: Sample rate conversion by linear interpolation
// ABOUTME: Streaming resampler for live paths, Clip for whole buffers
// Package resample converts interleaved int32 audio between sample rates.
//
// Resampler keeps the last input frame between calls so block boundaries
// interpolate cleanly. Clip converts a complete buffer in one pass and is
// used when conforming a loaded track to the engine rate.
//
//	r := resample.New(44100, 48000, 2)
//	n := r.Resample(in, out)
package resample
