// ABOUTME: Playback clock shared by every track of an engine
// ABOUTME: Maps rendered device frames onto the mix timeline
package mixer

import "sync/atomic"

// PlaybackClock anchors the timeline to the device. While running, the
// timeline position at device frame d is Offset + (d - Origin).
type PlaybackClock struct {
	Origin int64 // device frame the schedule was created at
	Offset int64 // timeline frame playing at Origin
}

// Position returns the timeline frame playing at deviceFrame
func (c PlaybackClock) Position(deviceFrame int64) int64 {
	return c.Offset + (deviceFrame - c.Origin)
}

// clockOrigin is the device frame a schedule started playing at. The
// render thread sets it on the first callback that plays the schedule, so
// a schedule published while a callback is in flight starts on the next
// callback rather than inside the one already running.
type clockOrigin struct {
	set   atomic.Bool
	frame atomic.Int64
}

// anchor returns the origin, fixing it at deviceFrame on first use. Only
// the render thread calls it.
func (o *clockOrigin) anchor(deviceFrame int64) int64 {
	if !o.set.Load() {
		o.frame.Store(deviceFrame)
		o.set.Store(true)
	}
	return o.frame.Load()
}

// load returns the origin once the render thread has fixed it
func (o *clockOrigin) load() (int64, bool) {
	if !o.set.Load() {
		return 0, false
	}
	return o.frame.Load(), true
}

// State is the transport state of an engine
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}
