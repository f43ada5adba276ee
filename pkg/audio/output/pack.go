// ABOUTME: Packs 24-bit working samples into device byte layouts
// ABOUTME: Little-endian S16, S24 and S32 as used by the playback backends
package output

import "github.com/Resonate-Protocol/resonate-jam/pkg/audio"

// bytesPerSample returns the device container width for a bit depth
func bytesPerSample(bitDepth int) int {
	switch bitDepth {
	case 16:
		return 2
	case 24:
		return 3
	default:
		return 4
	}
}

// packS16 writes samples as 16-bit little-endian
func packS16(out []byte, samples []int32) {
	for i, sample := range samples {
		s := audio.SampleToInt16(sample)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
}

// packS24 writes samples as packed 3-byte little-endian
func packS24(out []byte, samples []int32) {
	for i, sample := range samples {
		b := audio.SampleTo24Bit(sample)
		copy(out[i*3:], b[:])
	}
}

// packS32 left-justifies the 24-bit value in a 32-bit container
func packS32(out []byte, samples []int32) {
	for i, sample := range samples {
		s := sample << 8
		out[i*4] = byte(s)
		out[i*4+1] = byte(s >> 8)
		out[i*4+2] = byte(s >> 16)
		out[i*4+3] = byte(s >> 24)
	}
}

func pack(out []byte, samples []int32, bitDepth int) {
	switch bitDepth {
	case 16:
		packS16(out, samples)
	case 24:
		packS24(out, samples)
	default:
		packS32(out, samples)
	}
}
