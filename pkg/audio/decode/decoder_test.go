// ABOUTME: Tests for track file decoding
// ABOUTME: Builds WAV fixtures on the fly and checks codec dispatch errors
package decode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, rate, bitDepth, channels int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestCodecFromPath(t *testing.T) {
	tests := []struct {
		path    string
		codec   string
		wantErr bool
	}{
		{"take.wav", CodecWAV, false},
		{"TAKE.WAV", CodecWAV, false},
		{"bass.flac", CodecFLAC, false},
		{"drums.mp3", CodecMP3, false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			codec, err := CodecFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.codec, codec)
		})
	}
}

func TestFileWAV16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	writeWAV(t, path, 44100, 16, 2, []int{100, -100, 32767, -32768, 0, 1})

	clip, err := File(path)
	require.NoError(t, err)

	assert.Equal(t, 44100, clip.Format.SampleRate)
	assert.Equal(t, 2, clip.Format.Channels)
	assert.Equal(t, audio.WorkingBitDepth, clip.Format.BitDepth)
	assert.Equal(t, 3, clip.Frames())
	assert.Equal(t, []int32{100 << 8, -100 << 8, 32767 << 8, -32768 << 8, 0, 1 << 8}, clip.Samples)
}

func TestFileWAV24(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take24.wav")
	writeWAV(t, path, 48000, 24, 1, []int{audio.Max24Bit, audio.Min24Bit, 12345})

	clip, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, []int32{audio.Max24Bit, audio.Min24Bit, 12345}, clip.Samples)
	assert.Equal(t, 1, clip.Format.Channels)
}

func TestFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := File(filepath.Join(dir, "missing.wav"))
		assert.ErrorContains(t, err, "failed to open track")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := File(filepath.Join(dir, "x.ogg"))
		assert.ErrorContains(t, err, "unsupported file type")
	})

	t.Run("garbage wav", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.wav")
		require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0o644))
		_, err := File(path)
		assert.ErrorContains(t, err, "garbage.wav")
	})
}

func TestReaderErrors(t *testing.T) {
	t.Run("unknown codec", func(t *testing.T) {
		_, err := Reader(bytes.NewReader(nil), "aiff")
		assert.ErrorContains(t, err, "unsupported codec")
	})

	t.Run("bad flac signature", func(t *testing.T) {
		_, err := Reader(bytes.NewReader([]byte("RIFFxxxxWAVE")), CodecFLAC)
		assert.Error(t, err)
	})

	t.Run("empty mp3", func(t *testing.T) {
		_, err := Reader(bytes.NewReader(nil), CodecMP3)
		assert.Error(t, err)
	})
}
