// ABOUTME: Decoder entry points for packets and whole files
// ABOUTME: Dispatches track files to the WAV, FLAC or MP3 decoder by extension
package decode

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
)

const (
	CodecWAV  = "wav"
	CodecFLAC = "flac"
	CodecMP3  = "mp3"
	CodecOpus = "opus"
)

// Decoder decodes packetized audio (live link frames) to PCM int32 samples
type Decoder interface {
	// Decode converts one encoded packet to interleaved samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

// CodecFromPath maps a file extension to a codec name
func CodecFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return CodecWAV, nil
	case ".flac":
		return CodecFLAC, nil
	case ".mp3":
		return CodecMP3, nil
	default:
		return "", fmt.Errorf("unsupported file type: %q", filepath.Ext(path))
	}
}

// File decodes a complete track file into a clip in the 24-bit working range
func File(path string) (*audio.Clip, error) {
	codec, err := CodecFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track: %w", err)
	}
	defer f.Close()

	clip, err := Reader(f, codec)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return clip, nil
}

// Reader decodes a complete stream of the given codec
func Reader(r io.ReadSeeker, codec string) (*audio.Clip, error) {
	var (
		clip *audio.Clip
		err  error
	)

	switch codec {
	case CodecWAV:
		clip, err = decodeWAV(r)
	case CodecFLAC:
		clip, err = decodeFLAC(r)
	case CodecMP3:
		clip, err = decodeMP3(r)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
	if err != nil {
		return nil, err
	}

	if clip.Format.Channels < 1 || clip.Format.SampleRate < 1 {
		return nil, fmt.Errorf("invalid stream layout: %s", clip.Format)
	}
	return clip, nil
}
