// ABOUTME: Track types for the mixing engine
// ABOUTME: Sources, mix parameters, load errors and the solo/mute rule
package mixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/decode"
)

// TrackID identifies a track inside one engine
type TrackID string

// ErrTrackNotFound is returned by setters for an unknown track
var ErrTrackNotFound = errors.New("track not found")

// Source references a recorded track to load
type Source struct {
	Name string
	Path string
}

func (s Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Loader decodes a source into a clip
type Loader func(ctx context.Context, src Source) (*audio.Clip, error)

// FileLoader decodes sources from local files by extension
func FileLoader(ctx context.Context, src Source) (*audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decode.File(src.Path)
}

// Params are the live mix controls of one track
type Params struct {
	Volume float64 `json:"volume"` // [0, 1]
	Pan    float64 `json:"pan"`    // [-1, 1]
	Muted  bool    `json:"muted"`
	Soloed bool    `json:"soloed"`
}

// DefaultParams is unity gain, centered, neither muted nor soloed
func DefaultParams() Params {
	return Params{Volume: 1}
}

func (p Params) clamped() Params {
	p.Volume = audio.ClampRange(p.Volume, 0, 1)
	p.Pan = audio.ClampRange(p.Pan, -1, 1)
	return p
}

// Audible applies the solo rule: while any track is soloed only soloed
// tracks play, regardless of their mute flag.
func Audible(p Params, anySolo bool) bool {
	if anySolo {
		return p.Soloed
	}
	return !p.Muted
}

// TrackInfo is a read-only view of a loaded track
type TrackInfo struct {
	ID       TrackID
	Source   Source
	Duration time.Duration
	Params   Params
}

type track struct {
	id     TrackID
	source Source
	clip   *audio.Clip // stereo, engine rate, never mutated
	params Params
}

func (t *track) info() TrackInfo {
	return TrackInfo{
		ID:       t.id,
		Source:   t.source,
		Duration: t.clip.Duration(),
		Params:   t.params,
	}
}

// LoadError reports one source that could not be loaded
type LoadError struct {
	Index  int
	Source Source
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("track %d (%s): %v", e.Index, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadErrors collects the failures of a batch load. Sources not listed
// were loaded.
type LoadErrors []*LoadError

func (e LoadErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d track(s) failed to load: %s", len(e), strings.Join(msgs, "; "))
}

func (e LoadErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}
