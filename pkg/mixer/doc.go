// ABOUTME: Package mixer plays decoded tracks in lockstep
// ABOUTME: Live volume, pan, mute and solo with seek under a shared clock
// Package mixer is the client-side multi-track engine.
//
// Tracks are decoded and conformed to the engine format when they are
// added. Control methods publish an immutable snapshot that the audio
// callback reads once per Render, so parameter changes apply on the next
// buffer without restarting playback.
//
//	e := mixer.New(mixer.Config{SampleRate: 48000})
//	ids, err := e.LoadTracks(ctx, sources)
//	e.Play()
//	bus.Add(e)
package mixer
