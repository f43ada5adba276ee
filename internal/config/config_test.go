// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, file overlays, environment overrides and validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, "malgo", cfg.Audio.Backend)
	assert.Equal(t, 5*time.Second, cfg.Signal.HandshakeTimeout)
	assert.Equal(t, 6, cfg.Rendezvous.MaxParticipants)
	assert.InDelta(t, 0.8, cfg.Meter.Smoothing, 1e-9)
	assert.NotEmpty(t, cfg.ICE.STUN)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jam.toml")
	body := `
[signal]
url = "ws://example.local:8930/ws"
handshake_timeout = "2s"

[ice]
turn = ["turn:relay.example:3478"]
turn_user = "band"
force_relay = true

[rendezvous]
max_participants = 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://example.local:8930/ws", cfg.Signal.URL)
	assert.Equal(t, 2*time.Second, cfg.Signal.HandshakeTimeout)
	assert.Equal(t, []string{"turn:relay.example:3478"}, cfg.ICE.TURN)
	assert.True(t, cfg.ICE.ForceRelay)
	assert.Equal(t, 4, cfg.Rendezvous.MaxParticipants)
	// untouched sections keep defaults
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JAM_AUDIO_BACKEND", "oto")
	t.Setenv("JAM_SIGNAL_URL", "ws://env:1/ws")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "oto", cfg.Audio.Backend)
	assert.Equal(t, "ws://env:1/ws", cfg.Signal.URL)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[audio]\nsample_rat = 44100\n"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid backend", func(t *testing.T) {
		t.Setenv("JAM_AUDIO_BACKEND", "alsa")
		_, err := Load("")
		assert.ErrorContains(t, err, "audio.backend")
	})
}
