// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and Clip types plus sample range helpers
// Package audio provides the sample-level vocabulary shared by the jam engines.
//
// Decoded material is carried as interleaved int32 samples. Clips loaded for
// live playback are normalized into the 24-bit working range; the offline
// mixdown keeps the native bit depth of its inputs and clamps with the
// matching range.
//
// Example:
//
//	gains := audio.PanGains(0.8, -0.25)
//	l := float64(inL)*gains.LL + float64(inR)*gains.RL
//	out := audio.ClampFloat(l, 24)
package audio
