// ABOUTME: Tests for Opus decoder
// ABOUTME: Tests creation, validation and an encode/decode round trip
package decode

import (
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/encode"
)

func opusFormat(channels int) audio.Format {
	return audio.Format{
		Codec:      CodecOpus,
		SampleRate: 48000,
		Channels:   channels,
		BitDepth:   16,
	}
}

func TestNewOpus(t *testing.T) {
	for _, channels := range []int{1, 2} {
		decoder, err := NewOpus(opusFormat(channels))
		if err != nil {
			t.Fatalf("failed to create %dch decoder: %v", channels, err)
		}
		if decoder.Format().Channels != channels {
			t.Errorf("expected %d channels, got %d", channels, decoder.Format().Channels)
		}
		if err := decoder.Close(); err != nil {
			t.Errorf("expected Close to succeed, got error: %v", err)
		}
	}
}

func TestNewOpus_InvalidCodec(t *testing.T) {
	format := opusFormat(2)
	format.Codec = "pcm"

	decoder, err := NewOpus(format)
	if err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}
	if decoder != nil {
		t.Fatal("expected decoder to be nil for invalid codec")
	}

	expectedError := "invalid codec for Opus decoder: pcm"
	if err.Error() != expectedError {
		t.Errorf("expected error %q, got %q", expectedError, err.Error())
	}
}

func TestOpusRoundTrip(t *testing.T) {
	format := opusFormat(2)

	enc, err := encode.NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	dec, err := NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	frame := make([]int32, enc.FrameSize()*format.Channels)
	for i := 0; i < enc.FrameSize(); i++ {
		v := int32(math.Sin(2*math.Pi*440*float64(i)/48000) * 0.5 * audio.Max24Bit)
		frame[i*2] = v
		frame[i*2+1] = v
	}

	var encoder encode.Encoder = enc
	var decoder Decoder = dec
	defer encoder.Close()
	defer decoder.Close()

	var decoded []int32
	// the codec needs a few frames to settle
	for i := 0; i < 5; i++ {
		packet, err := encoder.Encode(frame)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		decoded, err = decoder.Decode(packet)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
	}

	if len(decoded) != len(frame) {
		t.Fatalf("expected %d samples, got %d", len(frame), len(decoded))
	}

	var energy float64
	for _, s := range decoded {
		energy += float64(s) * float64(s)
	}
	if energy == 0 {
		t.Error("decoded tone is silent")
	}
}
