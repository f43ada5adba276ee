// ABOUTME: Synchronized multi-track mixing engine
// ABOUTME: Plays N decoded tracks in lockstep from one immutable render snapshot
package mixer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/resample"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// Channels is the engine output layout; pan needs a stereo bus
	Channels = 2

	DefaultSampleRate      = 48000
	DefaultLoadConcurrency = 4
	DefaultEventBuffer     = 64

	renderChunkFrames = 4096
)

// Config configures an engine
type Config struct {
	SampleRate      int
	Loader          Loader // defaults to FileLoader
	LoadConcurrency int
	EventBuffer     int
}

// voice is a track as seen by the render context
type voice struct {
	samples []int32
	frames  int64
	offset  int64 // timeline frame at the clock origin
	gains   audio.StereoGains
	audible bool
}

// snapshot is everything Render needs, published atomically on each change
type snapshot struct {
	voices  []voice
	origin  *clockOrigin
	playing bool
}

// Engine mixes loaded tracks. Control methods may be called from any
// goroutine; Render must be called from a single audio callback.
type Engine struct {
	config Config
	loader Loader

	mu       sync.Mutex
	tracks   map[TrackID]*track
	order    []TrackID
	duration int64 // frames of the longest track
	clock    PlaybackClock // Offset only; the origin is fixed by Render
	origin   *clockOrigin
	playing  bool
	paused   bool
	closed   bool

	snap     atomic.Pointer[snapshot]
	rendered atomic.Int64 // device frames rendered so far

	events  chan TrackEvent
	dropped atomic.Int64

	// render-owned
	mix []float64
}

// New creates an empty, stopped engine
func New(config Config) *Engine {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.LoadConcurrency <= 0 {
		config.LoadConcurrency = DefaultLoadConcurrency
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}

	loader := config.Loader
	if loader == nil {
		loader = FileLoader
	}

	e := &Engine{
		config: config,
		loader: loader,
		tracks: make(map[TrackID]*track),
		events: make(chan TrackEvent, config.EventBuffer),
		mix:    make([]float64, renderChunkFrames*Channels),
		origin: &clockOrigin{},
	}
	e.snap.Store(&snapshot{origin: e.origin})
	return e
}

// Format returns the layout Render produces
func (e *Engine) Format() audio.Format {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: e.config.SampleRate,
		Channels:   Channels,
		BitDepth:   audio.WorkingBitDepth,
	}
}

// Events returns the track event stream. Events are dropped rather than
// blocking the engine when the reader falls behind.
func (e *Engine) Events() <-chan TrackEvent {
	return e.events
}

// AddTrack decodes src and adds it to the mix. Decoding runs on the
// caller's goroutine without holding engine state.
func (e *Engine) AddTrack(ctx context.Context, src Source) (TrackID, error) {
	clip, err := e.load(ctx, src)
	if err != nil {
		return "", err
	}
	return e.insert(src, clip)
}

// LoadTracks decodes sources concurrently and adds the ones that succeed
// in source order. The returned slice is index-aligned with sources and
// holds an empty ID for each failure, which is reported in LoadErrors.
func (e *Engine) LoadTracks(ctx context.Context, sources []Source) ([]TrackID, error) {
	clips := make([]*audio.Clip, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(e.config.LoadConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			clips[i], errs[i] = e.load(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]TrackID, len(sources))
	var failed LoadErrors
	for i, src := range sources {
		if errs[i] == nil {
			ids[i], errs[i] = e.insert(src, clips[i])
		}
		if errs[i] != nil {
			log.Warnf("Track %s failed to load: %v", src, errs[i])
			failed = append(failed, &LoadError{Index: i, Source: src, Err: errs[i]})
		}
	}

	if len(failed) > 0 {
		return ids, failed
	}
	return ids, nil
}

func (e *Engine) load(ctx context.Context, src Source) (*audio.Clip, error) {
	clip, err := e.loader(ctx, src)
	if err != nil {
		return nil, err
	}
	return conform(clip, e.config.SampleRate)
}

// conform converts a decoded clip to stereo at rate in the working range
func conform(clip *audio.Clip, rate int) (*audio.Clip, error) {
	if clip == nil || clip.Format.Channels < 1 || clip.Format.SampleRate < 1 {
		return nil, fmt.Errorf("invalid clip")
	}

	in := clip.Format
	frames := clip.Frames()
	stereo := make([]int32, frames*Channels)
	for i := 0; i < frames; i++ {
		l := audio.ToWorking(clip.Samples[i*in.Channels], in.BitDepth)
		r := l
		if in.Channels > 1 {
			r = audio.ToWorking(clip.Samples[i*in.Channels+1], in.BitDepth)
		}
		stereo[i*2] = l
		stereo[i*2+1] = r
	}

	if in.SampleRate != rate {
		stereo = resample.Clip(stereo, Channels, in.SampleRate, rate)
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      in.Codec,
			SampleRate: rate,
			Channels:   Channels,
			BitDepth:   audio.WorkingBitDepth,
		},
		Samples: stereo,
	}, nil
}

func (e *Engine) insert(src Source, clip *audio.Clip) (TrackID, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("engine closed")
	}

	t := &track{
		id:     TrackID(uuid.NewString()),
		source: src,
		clip:   clip,
		params: DefaultParams(),
	}
	e.tracks[t.id] = t
	e.order = append(e.order, t.id)
	e.updateDuration()
	e.publish()
	info := t.info()
	e.mu.Unlock()

	log.Debugf("Track %s added: %s (%s)", t.id, src, info.Duration)
	e.emit(TrackEvent{Kind: EventAdd, Track: info})
	return t.id, nil
}

// RemoveTrack drops a track from the mix
func (e *Engine) RemoveTrack(id TrackID) error {
	e.mu.Lock()
	t, ok := e.tracks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	delete(e.tracks, id)
	for i, tid := range e.order {
		if tid == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	e.updateDuration()
	e.publish()
	info := t.info()
	e.mu.Unlock()

	e.emit(TrackEvent{Kind: EventDelete, Track: info})
	return nil
}

// Tracks returns the loaded tracks in insertion order
func (e *Engine) Tracks() []TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]TrackInfo, 0, len(e.order))
	for _, id := range e.order {
		infos = append(infos, e.tracks[id].info())
	}
	return infos
}

// Track returns one track's current state
func (e *Engine) Track(id TrackID) (TrackInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tracks[id]
	if !ok {
		return TrackInfo{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	return t.info(), nil
}

// SetVolume sets a track's gain, clamped to [0, 1]
func (e *Engine) SetVolume(id TrackID, volume float64) error {
	return e.update(id, func(p *Params) { p.Volume = volume })
}

// SetPan sets a track's stereo position, clamped to [-1, 1]
func (e *Engine) SetPan(id TrackID, pan float64) error {
	return e.update(id, func(p *Params) { p.Pan = pan })
}

// SetMute sets a track's mute flag
func (e *Engine) SetMute(id TrackID, muted bool) error {
	return e.update(id, func(p *Params) { p.Muted = muted })
}

// SetSolo sets a track's solo flag
func (e *Engine) SetSolo(id TrackID, soloed bool) error {
	return e.update(id, func(p *Params) { p.Soloed = soloed })
}

// SetParams replaces all controls of a track at once
func (e *Engine) SetParams(id TrackID, params Params) error {
	return e.update(id, func(p *Params) { *p = params })
}

func (e *Engine) update(id TrackID, fn func(p *Params)) error {
	e.mu.Lock()
	t, ok := e.tracks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	params := t.params
	fn(&params)
	params = params.clamped()
	if params == t.params {
		e.mu.Unlock()
		return nil
	}
	t.params = params
	e.publish()
	info := t.info()
	e.mu.Unlock()

	e.emit(TrackEvent{Kind: EventUpdate, Track: info})
	return nil
}

// Duration returns the timeline length, the longest track's duration
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return audio.FramesToDuration(e.duration, e.config.SampleRate)
}

// Play starts or resumes playback. Playing past the end restarts at zero.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.positionLocked()
	if e.playing && pos < e.duration {
		return
	}
	if pos >= e.duration {
		pos = 0
	}
	e.paused = false
	e.reschedule(pos, true)
}

// Pause freezes the playhead at its current position
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return
	}
	e.paused = true
	e.reschedule(e.positionLocked(), false)
}

// Stop halts playback and rewinds to zero
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.reschedule(0, false)
}

// Seek moves the playhead to d, clamped to [0, Duration]. Every track is
// rescheduled under a fresh clock origin so all of them resume at d.
func (e *Engine) Seek(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := audio.DurationToFrames(d, e.config.SampleRate)
	if target < 0 {
		target = 0
	}
	if target > e.duration {
		target = e.duration
	}
	e.reschedule(target, e.playing)
}

// reschedule starts a new schedule with the timeline at pos. The next
// render callback fixes its device origin. (must hold e.mu)
func (e *Engine) reschedule(pos int64, playing bool) {
	e.clock = PlaybackClock{Offset: pos}
	e.origin = &clockOrigin{}
	e.playing = playing
	e.publish()
}

// Position returns the current playhead
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return audio.FramesToDuration(e.positionLocked(), e.config.SampleRate)
}

func (e *Engine) positionLocked() int64 {
	pos := e.clock.Offset
	if e.playing {
		if origin, ok := e.origin.load(); ok {
			clock := PlaybackClock{Origin: origin, Offset: e.clock.Offset}
			pos = clock.Position(e.rendered.Load())
		}
	}
	if pos > e.duration {
		pos = e.duration
	}
	return pos
}

// State returns the transport state. A playing engine whose playhead
// reached the end reports stopped.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.playing && e.positionLocked() < e.duration:
		return StatePlaying
	case !e.playing && e.paused:
		return StatePaused
	default:
		return StateStopped
	}
}

// TrackOffset returns the timeline position a track was last scheduled at
func (e *Engine) TrackOffset(id TrackID) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tracks[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	snap := e.snap.Load()
	for i, tid := range e.order {
		if tid == id {
			return audio.FramesToDuration(snap.voices[i].offset, e.config.SampleRate), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
}

// Offsets returns the scheduled offset of every track
func (e *Engine) Offsets() map[TrackID]time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snap.Load()
	offsets := make(map[TrackID]time.Duration, len(e.order))
	for i, id := range e.order {
		offsets[id] = audio.FramesToDuration(snap.voices[i].offset, e.config.SampleRate)
	}
	return offsets
}

// SaveMix describes the current mix for storage or offline mixdown
func (e *Engine) SaveMix() MixDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	desc := MixDescriptor{
		SampleRate: e.config.SampleRate,
		Tracks:     make([]MixTrack, 0, len(e.order)),
	}
	for _, id := range e.order {
		t := e.tracks[id]
		desc.Tracks = append(desc.Tracks, MixTrack{
			ID:     t.id,
			Name:   t.source.Name,
			Path:   t.source.Path,
			Volume: t.params.Volume,
			Pan:    t.params.Pan,
			Muted:  t.params.Muted,
			Soloed: t.params.Soloed,
		})
	}
	return desc
}

// Close stops playback and ends the event stream
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.playing = false
	e.paused = false
	e.publish()
	close(e.events)
	return nil
}

// emit publishes an event without blocking
func (e *Engine) emit(ev TrackEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *Engine) updateDuration() {
	e.duration = 0
	for _, t := range e.tracks {
		if f := int64(t.clip.Frames()); f > e.duration {
			e.duration = f
		}
	}
	if e.clock.Offset > e.duration {
		e.clock = PlaybackClock{Offset: e.duration}
		e.origin = &clockOrigin{}
	}
}

// publish builds a new render snapshot from the control state (must hold e.mu)
func (e *Engine) publish() {
	anySolo := false
	for _, t := range e.tracks {
		if t.params.Soloed {
			anySolo = true
			break
		}
	}

	snap := &snapshot{
		voices:  make([]voice, len(e.order)),
		origin:  e.origin,
		playing: e.playing,
	}
	for i, id := range e.order {
		t := e.tracks[id]
		snap.voices[i] = voice{
			samples: t.clip.Samples,
			frames:  int64(t.clip.Frames()),
			offset:  e.clock.Offset,
			gains:   audio.PanGains(t.params.Volume, t.params.Pan),
			audible: Audible(t.params, anySolo),
		}
	}
	e.snap.Store(snap)
}

// Render mixes the next len(dst)/2 stereo frames into dst. It reads one
// snapshot per call and never locks or allocates.
func (e *Engine) Render(dst []int32) {
	snap := e.snap.Load()
	frames := len(dst) / Channels
	device := e.rendered.Load()
	clear(dst[frames*Channels:])

	if !snap.playing || len(snap.voices) == 0 {
		if snap.playing {
			snap.origin.anchor(device)
		}
		clear(dst)
		e.rendered.Add(int64(frames))
		return
	}
	origin := snap.origin.anchor(device)

	for start := 0; start < frames; start += renderChunkFrames {
		n := frames - start
		if n > renderChunkFrames {
			n = renderChunkFrames
		}
		mix := e.mix[:n*Channels]
		clear(mix)

		elapsed := device + int64(start) - origin
		for vi := range snap.voices {
			v := &snap.voices[vi]
			if !v.audible || v.gains.Silent() {
				continue
			}
			mixVoice(mix, v, v.offset+elapsed)
		}

		out := dst[start*Channels : (start+n)*Channels]
		for i, s := range mix {
			out[i] = audio.ClampFloat(s, audio.WorkingBitDepth)
		}
	}

	e.rendered.Add(int64(frames))
}

// mixVoice adds one voice into mix starting at timeline frame pos
func mixVoice(mix []float64, v *voice, pos int64) {
	g := v.gains
	n := int64(len(mix) / Channels)
	for i := int64(0); i < n; i++ {
		p := pos + i
		if p < 0 {
			continue
		}
		if p >= v.frames {
			return
		}
		l := float64(v.samples[p*2])
		r := float64(v.samples[p*2+1])
		mix[i*2] += l*g.LL + r*g.RL
		mix[i*2+1] += l*g.LR + r*g.RR
	}
}
