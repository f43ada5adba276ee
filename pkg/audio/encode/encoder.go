// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for live link encoders
package encode

// Encoder encodes PCM int32 samples for the wire
type Encoder interface {
	// Encode converts one frame of samples to an encoded packet
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}
