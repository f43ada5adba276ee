// ABOUTME: Bubbletea model for the jam client TUI
// ABOUTME: Room, participants, tracks with mix controls, meters and transport
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	volumeStep = 0.05
	panStep    = 0.1
	seekStep   = 5 * time.Second
	masterStep = 5
	chatLines  = 5
	meterWidth = 20
)

// Participant is a remote room member as displayed
type Participant struct {
	ID         string
	Name       string
	Instrument string
	Link       string // link state, empty before negotiation starts
}

// Transport is the engine transport as displayed
type Transport struct {
	State    mixer.State
	Position time.Duration
	Duration time.Duration
}

// Levels carries the latest meter readings in [0, 1]
type Levels struct {
	Input  float64
	Output float64
	Peers  map[string]float64
}

// ChatLine is one received or sent chat message
type ChatLine struct {
	From string
	Text string
}

// StatusMsg updates TUI state. Nil and zero fields leave state unchanged.
type StatusMsg struct {
	Connected    *bool
	Room         string
	Self         string
	Participants []Participant
	Tracks       []mixer.TrackInfo
	Transport    *Transport
	Levels       *Levels
	MicMuted     *bool
	Chat         *ChatLine
	Notice       string
}

// Model represents the TUI state
type Model struct {
	// Session
	connected bool
	room      string
	self      string
	notice    string

	participants []Participant
	chat         []ChatLine

	// Mix
	tracks    []mixer.TrackInfo
	selected  int
	transport Transport
	master    int
	micMuted  bool

	levels Levels

	controls *Controls

	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderParticipants())
	b.WriteString(m.renderTracks())
	b.WriteString(m.renderTransport())
	b.WriteString(m.renderChat())
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Resonate Jam"))
	b.WriteString("\n\n")

	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("In room %s as %s", m.room, m.self)
	}
	b.WriteString(headerStyle.Render("Status: "))
	if m.connected {
		b.WriteString(valueStyle.Render(status))
	} else {
		b.WriteString(warnStyle.Render(status))
	}
	b.WriteString("\n")

	mic := "live"
	if m.micMuted {
		mic = "muted"
	}
	b.WriteString(headerStyle.Render("Mic:    "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("[%s] %-5s", renderMeter(m.levels.Input, meterWidth), mic)))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Out:    "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("[%s] %d%%", renderMeter(m.levels.Output, meterWidth), m.master)))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(warnStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderParticipants() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Participants (%d)", len(m.participants))))
	b.WriteString("\n")

	if len(m.participants) == 0 {
		b.WriteString(valueStyle.Render("  Nobody else here yet"))
		b.WriteString("\n")
	}
	for _, p := range m.participants {
		name := truncate(p.Name, 16)
		if p.Instrument != "" {
			name = truncate(fmt.Sprintf("%s (%s)", p.Name, p.Instrument), 28)
		}
		link := p.Link
		if link == "" {
			link = "waiting"
		}
		b.WriteString(fmt.Sprintf("  • %-28s", name))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" %-12s [%s]", link, renderMeter(m.levels.Peers[p.ID], meterWidth/2))))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderTracks() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Tracks (%d)", len(m.tracks))))
	b.WriteString("\n")

	if len(m.tracks) == 0 {
		b.WriteString(valueStyle.Render("  No tracks loaded"))
		b.WriteString("\n")
	}
	for i, t := range m.tracks {
		flags := ""
		if t.Params.Muted {
			flags += "M"
		} else {
			flags += "-"
		}
		if t.Params.Soloed {
			flags += "S"
		} else {
			flags += "-"
		}
		line := fmt.Sprintf("%-20s vol [%s] %3d%%  pan %s  %s",
			truncate(t.Source.String(), 20),
			renderMeter(t.Params.Volume, 10),
			int(t.Params.Volume*100+0.5),
			panLabel(t.Params.Pan),
			flags)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderTransport() string {
	return fmt.Sprintf("%s %s / %s  %s\n\n",
		headerStyle.Render("Transport:"),
		formatDuration(m.transport.Position),
		formatDuration(m.transport.Duration),
		valueStyle.Render(m.transport.State.String()))
}

func (m Model) renderChat() string {
	if len(m.chat) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Chat"))
	b.WriteString("\n")
	for _, line := range m.chat {
		b.WriteString(fmt.Sprintf("  %s: %s\n", line.From, line.Text))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHelp() string {
	return helpStyle.Render("space:Play/Pause  s:Stop  ←/→:Seek  ↑/↓:Track  +/-:Volume  [/]:Pan  m:Mute  o:Solo\n" +
		"v:Mic  ,/.:Master  w:Save mix  r:Reconnect  q:Quit")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit

	case " ", "space":
		if m.transport.State == mixer.StatePlaying {
			m.transport.State = mixer.StatePaused
			m.controls.send(Command{Kind: CommandPause})
		} else {
			m.transport.State = mixer.StatePlaying
			m.controls.send(Command{Kind: CommandPlay})
		}
	case "s":
		m.transport.State = mixer.StateStopped
		m.transport.Position = 0
		m.controls.send(Command{Kind: CommandStop})
	case "left":
		m.seek(-seekStep)
	case "right":
		m.seek(seekStep)

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.tracks)-1 {
			m.selected++
		}

	case "+", "=":
		m.adjustTrack(func(p *mixer.Params) { p.Volume = audio.ClampRange(p.Volume+volumeStep, 0, 1) })
	case "-", "_":
		m.adjustTrack(func(p *mixer.Params) { p.Volume = audio.ClampRange(p.Volume-volumeStep, 0, 1) })
	case "[":
		m.adjustTrack(func(p *mixer.Params) { p.Pan = audio.ClampRange(p.Pan-panStep, -1, 1) })
	case "]":
		m.adjustTrack(func(p *mixer.Params) { p.Pan = audio.ClampRange(p.Pan+panStep, -1, 1) })
	case "m":
		m.adjustTrack(func(p *mixer.Params) { p.Muted = !p.Muted })
	case "o":
		m.adjustTrack(func(p *mixer.Params) { p.Soloed = !p.Soloed })

	case "v":
		m.micMuted = !m.micMuted
		m.controls.send(Command{Kind: CommandMicMute, Enabled: m.micMuted})
	case ",":
		m.master = clampInt(m.master-masterStep, 0, 100)
		m.controls.send(Command{Kind: CommandMasterVolume, Value: float64(m.master)})
	case ".":
		m.master = clampInt(m.master+masterStep, 0, 100)
		m.controls.send(Command{Kind: CommandMasterVolume, Value: float64(m.master)})

	case "w":
		m.controls.send(Command{Kind: CommandSaveMix})
	case "r":
		m.controls.send(Command{Kind: CommandReconnect})
	}

	return m, nil
}

func (m *Model) seek(delta time.Duration) {
	pos := m.transport.Position + delta
	if pos < 0 {
		pos = 0
	}
	if m.transport.Duration > 0 && pos > m.transport.Duration {
		pos = m.transport.Duration
	}
	m.transport.Position = pos
	m.controls.send(Command{Kind: CommandSeek, Position: pos})
}

// adjustTrack edits the selected track optimistically and forwards the
// resulting params
func (m *Model) adjustTrack(fn func(p *mixer.Params)) {
	if m.selected < 0 || m.selected >= len(m.tracks) {
		return
	}
	t := &m.tracks[m.selected]
	fn(&t.Params)
	m.controls.send(Command{Kind: CommandTrackParams, Track: t.ID, Params: t.Params})
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
		if !m.connected {
			m.participants = nil
		}
	}
	if msg.Room != "" {
		m.room = msg.Room
	}
	if msg.Self != "" {
		m.self = msg.Self
	}
	if msg.Participants != nil {
		m.participants = append(m.participants[:0:0], msg.Participants...)
		sort.Slice(m.participants, func(i, j int) bool {
			return m.participants[i].Name < m.participants[j].Name
		})
	}
	if msg.Tracks != nil {
		m.tracks = append(m.tracks[:0:0], msg.Tracks...)
		if m.selected >= len(m.tracks) {
			m.selected = len(m.tracks) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
	}
	if msg.Transport != nil {
		m.transport = *msg.Transport
	}
	if msg.Levels != nil {
		m.levels = *msg.Levels
	}
	if msg.MicMuted != nil {
		m.micMuted = *msg.MicMuted
	}
	if msg.Chat != nil {
		m.chat = append(m.chat, *msg.Chat)
		if len(m.chat) > chatLines {
			m.chat = m.chat[len(m.chat)-chatLines:]
		}
	}
	if msg.Notice != "" {
		m.notice = msg.Notice
	}
}

// renderMeter draws value in [0, 1] as a bar
func renderMeter(value float64, width int) string {
	filled := int(audio.ClampRange(value, 0, 1)*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func panLabel(pan float64) string {
	switch {
	case pan < -0.005:
		return fmt.Sprintf("L%-3d", int(-pan*100+0.5))
	case pan > 0.005:
		return fmt.Sprintf("R%-3d", int(pan*100+0.5))
	default:
		return " C  "
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
