// ABOUTME: Audio output package for live playback
// ABOUTME: Pull-model devices fed by a summing Bus
// Package output plays audio by pulling from a Source on the device thread.
//
// Malgo supports 16, 24 and 32-bit devices. Oto is a 16-bit fallback.
// Bus sums the local mix, remote peers and monitors into one Source.
//
// Example:
//
//	bus := output.NewBus(2)
//	remove := bus.Add(engine)
//	out := output.NewMalgo()
//	err := out.Open(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24}, bus)
package output
