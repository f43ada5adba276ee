// ABOUTME: Track change notifications published by the engine
// ABOUTME: ADD, UPDATE and DELETE events for UIs and session sync
package mixer

// EventKind classifies a track event
type EventKind string

const (
	EventAdd    EventKind = "ADD"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// TrackEvent describes one change to the track set
type TrackEvent struct {
	Kind  EventKind
	Track TrackInfo
}
