// ABOUTME: Audio decoder package for track files and live packets
// ABOUTME: WAV, FLAC and MP3 files to clips; Opus packets to PCM
// Package decode turns encoded audio into int32 samples in the 24-bit
// working range.
//
// Track files are decoded whole, since the mixing engine keeps every
// loaded track in memory:
//
//	clip, err := decode.File("takes/bass.flac")
//
// Live link frames arrive as Opus packets and are decoded one at a time:
//
//	dec, err := decode.NewOpus(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2})
//	samples, err := dec.Decode(packet)
package decode
