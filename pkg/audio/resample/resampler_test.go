// ABOUTME: Tests for audio resampler
// ABOUTME: Tests whole-clip and streaming linear interpolation
package resample

import (
	"testing"
)

func TestClipUpsample(t *testing.T) {
	out := Clip([]int32{0, 100}, 1, 2, 4)
	expected := []int32{0, 50, 100, 100}

	if len(out) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestClipDownsample(t *testing.T) {
	out := Clip([]int32{0, 10, 20, 30}, 1, 4, 2)
	expected := []int32{0, 20}

	if len(out) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestClipStereoKeepsChannelsApart(t *testing.T) {
	// left ramps up, right stays negative
	in := []int32{0, -5, 100, -5, 200, -5}
	out := Clip(in, 2, 3, 6)

	if len(out) != 12 {
		t.Fatalf("expected 6 stereo frames, got %d samples", len(out))
	}
	for i := 1; i < len(out); i += 2 {
		if out[i] != -5 {
			t.Errorf("right channel leaked: frame %d = %d", i/2, out[i])
		}
	}
	if out[2] != 50 {
		t.Errorf("expected interpolated left sample 50, got %d", out[2])
	}
}

func TestClipSameRateCopies(t *testing.T) {
	in := []int32{1, 2, 3}
	out := Clip(in, 1, 48000, 48000)
	out[0] = 99
	if in[0] != 1 {
		t.Error("same-rate clip must not alias its input")
	}
}

func TestStreamingUpsampling(t *testing.T) {
	r := New(44100, 48000, 2)

	input := make([]int32, 200)
	for i := range input {
		input[i] = int32(i * 100)
	}

	output := make([]int32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, output)

	expected := int(float64(len(input)) * 48000 / 44100)
	if n < expected-4 || n > expected+4 {
		t.Errorf("expected ~%d samples, got %d", expected, n)
	}
	if output[0] != input[0] || output[1] != input[1] {
		t.Errorf("first frame should pass through, got %d/%d", output[0], output[1])
	}
}

func TestStreamingChunksAreContinuous(t *testing.T) {
	r := New(48000, 32000, 1)

	ramp := make([]int32, 300)
	for i := range ramp {
		ramp[i] = int32(i * 10)
	}

	var out []int32
	for start := 0; start < len(ramp); start += 50 {
		chunk := ramp[start : start+50]
		buf := make([]int32, r.OutputSamplesNeeded(len(chunk))+1)
		n := r.Resample(chunk, buf)
		out = append(out, buf[:n]...)
	}

	// a monotonic ramp must stay monotonic across chunk boundaries
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("discontinuity at %d: %d after %d", i, out[i], out[i-1])
		}
	}
	if len(out) < 190 || len(out) > 210 {
		t.Errorf("expected ~200 samples, got %d", len(out))
	}
}

func TestStreamingSameRate(t *testing.T) {
	r := New(48000, 48000, 2)
	in := []int32{1, 2, 3, 4}
	out := make([]int32, 4)
	if n := r.Resample(in, out); n != 4 {
		t.Errorf("expected 4 samples, got %d", n)
	}
}
