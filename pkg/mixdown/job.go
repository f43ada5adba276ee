// ABOUTME: Mixdown job description and typed errors
// ABOUTME: Maps a saved mix onto an ordered list of input files
package mixdown

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
)

// Track is one input of a mixdown
type Track struct {
	Path   string
	Volume float64
	Pan    float64
	Muted  bool
}

// Job is an ordered set of inputs and the file to write
type Job struct {
	Tracks []Track
	Output string
}

// NewJob converts a saved mix into a job. When any track is soloed only
// soloed tracks are mixed, matching what the live engine plays.
func NewJob(desc mixer.MixDescriptor, output string) Job {
	anySolo := desc.AnySolo()
	job := Job{
		Tracks: make([]Track, 0, len(desc.Tracks)),
		Output: output,
	}
	for _, t := range desc.Tracks {
		job.Tracks = append(job.Tracks, Track{
			Path:   t.Path,
			Volume: t.Volume,
			Pan:    t.Pan,
			Muted: !mixer.Audible(mixer.Params{
				Muted:  t.Muted,
				Soloed: t.Soloed,
			}, anySolo),
		})
	}
	return job
}

// Result describes a completed mixdown
type Result struct {
	Output string
	Format audio.Format
	Frames int64
}

// FormatMismatchError names the first input whose layout differs from
// the first track's
type FormatMismatchError struct {
	Index int
	Path  string
	Want  audio.Format
	Got   audio.Format
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("track %d (%s) format mismatch: got %s, want %s", e.Index, e.Path, e.Got, e.Want)
}
