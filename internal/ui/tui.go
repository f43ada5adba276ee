// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries key commands back to the app
package ui

import (
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
	tea "github.com/charmbracelet/bubbletea"
)

// CommandKind identifies what a command asks the app to do
type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandPause
	CommandStop
	CommandSeek
	CommandTrackParams
	CommandMicMute
	CommandMasterVolume
	CommandSaveMix
	CommandReconnect
)

// Command is a user action issued from the TUI
type Command struct {
	Kind     CommandKind
	Track    mixer.TrackID
	Params   mixer.Params
	Position time.Duration
	Value    float64
	Enabled  bool
}

// Controls holds channels carrying user actions out of the TUI
type Controls struct {
	Commands chan Command
	Quit     chan struct{}
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Commands: make(chan Command, 32),
		Quit:     make(chan struct{}, 1),
	}
}

func (c *Controls) send(cmd Command) {
	if c == nil {
		return
	}
	select {
	case c.Commands <- cmd:
	default:
		// Don't block the UI if the app is behind
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model. controls may be nil.
func NewModel(controls *Controls) Model {
	return Model{
		master:   100,
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls), tea.WithAltScreen())
	return p, nil
}
