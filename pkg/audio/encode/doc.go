// ABOUTME: Audio encoder package for live links
// ABOUTME: Provides Encoder interface and the Opus implementation
// Package encode provides the encoder used on outbound peer tracks.
//
// Encoders accept int32 samples in the 24-bit working range.
//
// Example:
//
//	encoder, err := encode.NewOpus(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2})
//	packet, err := encoder.Encode(frame)
package encode
