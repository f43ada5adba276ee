// ABOUTME: Package mixdown renders a saved mix to a single WAV file
// ABOUTME: Offline, streaming and bit-exact across runs
// Package mixdown sums recorded tracks sample by sample.
//
// Every input must share sample rate, channel count and bit depth with
// the first track; a mismatch fails with *FormatMismatchError before any
// output exists. Sums are clamped to the bit depth's range and the result
// is written through a temporary file that replaces the destination only
// when the mix completes.
//
//	job := mixdown.NewJob(engine.SaveMix(), "mix.wav")
//	result, err := mixdown.New(mixdown.Config{}).Run(ctx, job)
package mixdown
