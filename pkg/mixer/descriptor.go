// ABOUTME: Serializable description of a mix
// ABOUTME: Produced by SaveMix and consumed by the offline mixdown
package mixer

// MixDescriptor captures the track list and controls of a mix
type MixDescriptor struct {
	SampleRate int        `json:"sampleRate"`
	Tracks     []MixTrack `json:"tracks"`
}

// MixTrack is one entry of a MixDescriptor
type MixTrack struct {
	ID     TrackID `json:"id"`
	Name   string  `json:"name,omitempty"`
	Path   string  `json:"path"`
	Volume float64 `json:"volume"`
	Pan    float64 `json:"pan"`
	Muted  bool    `json:"muted"`
	Soloed bool    `json:"soloed"`
}

// AnySolo reports whether any track in the descriptor is soloed
func (d MixDescriptor) AnySolo() bool {
	for _, t := range d.Tracks {
		if t.Soloed {
			return true
		}
	}
	return false
}
