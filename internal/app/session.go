// ABOUTME: Room session handling for the jam client
// ABOUTME: Routes signaling into the peer manager, tracks the roster and rejoins after loss
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/internal/ui"
	"github.com/Resonate-Protocol/resonate-jam/pkg/peer"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
)

const maxReconnectBackoff = 30 * time.Second

// subscribe routes every inbound message through deliver. Messages that
// arrive before the session's peer manager exists are held in a backlog.
func (a *App) subscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.unsubs = append(a.unsubs,
		a.coord.Subscribe(signal.TypeAny, a.deliver),
	)
}

func (a *App) deliver(msg signal.Message) {
	if msg.Type == signal.TypeDisconnected {
		a.disconnected(msg)
		return
	}

	a.mu.Lock()
	if a.peers == nil {
		a.backlog = append(a.backlog, msg)
		a.mu.Unlock()
		return
	}
	updates := a.routeLocked(msg)
	a.mu.Unlock()

	for _, u := range updates {
		a.notify(u)
	}
}

// join joins the configured room and installs a fresh peer manager for
// the participant id the rendezvous assigned
func (a *App) join(ctx context.Context) error {
	self, err := a.coord.Join(ctx, a.config.Room, signal.JoinPayload{
		Name:       a.config.Name,
		Instrument: a.config.Instrument,
	})
	if err != nil {
		return fmt.Errorf("failed to join room %s: %w", a.config.Room, err)
	}
	a.install(*self)
	return nil
}

func (a *App) install(self signal.Participant) {
	var local peer.Muter
	if a.outbound != nil {
		local = a.outbound
	}

	a.mu.Lock()
	muted := a.outbound != nil && a.outbound.Muted()
	m := peer.NewManager(peer.Config{
		Self:                 self.ID,
		Factory:              a.factory,
		Signaler:             a.coord,
		Local:                local,
		RenegotiationTimeout: a.settings.ICE.RenegotiationTimeout,
	})
	if muted {
		m.SetMuted(true)
	}
	a.peers = m
	a.self = self
	a.roster = make(map[string]signal.Participant)

	backlog := a.backlog
	a.backlog = nil
	var updates []ui.StatusMsg
	for _, msg := range backlog {
		updates = append(updates, a.routeLocked(msg)...)
	}
	a.mu.Unlock()

	a.wg.Add(1)
	go a.watchLinks(m)

	connected := true
	a.notify(ui.StatusMsg{Connected: &connected, Room: a.config.Room, Self: self.Name})
	for _, u := range updates {
		a.notify(u)
	}
	a.pushParticipants()
}

// routeLocked hands one message to the current session and returns the
// UI updates to send once a.mu is released
func (a *App) routeLocked(msg signal.Message) []ui.StatusMsg {
	m := a.peers
	var err error
	var updates []ui.StatusMsg
	rosterChanged := false

	switch msg.Type {
	case signal.TypeRoomInfo, signal.TypeRoomUpdated:
		var info signal.RoomInfo
		if err = msg.Decode(&info); err != nil {
			break
		}
		a.roster = make(map[string]signal.Participant, len(info.Participants))
		for _, p := range info.Participants {
			if p.ID != a.self.ID {
				a.roster[p.ID] = p
			}
		}
		m.HandleRoomInfo(info)
		rosterChanged = true

	case signal.TypeUserJoined:
		var p signal.UserPayload
		if err = msg.Decode(&p); err != nil {
			break
		}
		if p.Participant.ID == a.self.ID {
			break
		}
		a.roster[p.Participant.ID] = p.Participant
		log.Infof("%s joined", p.Participant.Name)
		err = m.HandleUserJoined(p.Participant)
		rosterChanged = true

	case signal.TypeUserLeft:
		var p signal.UserPayload
		if err = msg.Decode(&p); err != nil {
			break
		}
		delete(a.roster, p.Participant.ID)
		log.Infof("%s left", p.Participant.Name)
		m.HandleUserLeft(p.Participant)
		rosterChanged = true

	case signal.TypeOffer:
		err = m.HandleOffer(msg)
	case signal.TypeAnswer:
		err = m.HandleAnswer(msg)
	case signal.TypeICECandidate:
		err = m.HandleIceCandidate(msg)

	case signal.TypeInstrumentChanged:
		var p signal.InstrumentPayload
		if err = msg.Decode(&p); err != nil {
			break
		}
		if member, ok := a.roster[msg.From]; ok {
			member.Instrument = p.Instrument
			a.roster[msg.From] = member
		}
		rosterChanged = true

	case signal.TypeChat:
		var p signal.ChatPayload
		if err = msg.Decode(&p); err != nil {
			break
		}
		from := msg.From
		if member, ok := a.roster[msg.From]; ok {
			from = member.Name
		}
		updates = append(updates, ui.StatusMsg{Chat: &ui.ChatLine{From: from, Text: p.Text}})

	case signal.TypeError:
		var p signal.ErrorPayload
		if err = msg.Decode(&p); err != nil {
			break
		}
		log.Warnf("Rendezvous error %s: %s", p.Code, p.Message)
		updates = append(updates, ui.StatusMsg{Notice: p.Message})
	}

	if err != nil {
		log.Warnf("Failed to handle %s from %s: %v", msg.Type, msg.From, err)
	}
	if rosterChanged {
		updates = append(updates, ui.StatusMsg{Participants: a.participantsLocked()})
	}
	return updates
}

// watchLinks reports link state changes of one session's manager
func (a *App) watchLinks(m *peer.Manager) {
	defer a.wg.Done()

	for ev := range m.Events() {
		log.Infof("Link to %s (%s): %s", ev.Participant.Name, ev.Participant.ID, ev.State)
		if ev.State == peer.StateFailed {
			a.notify(ui.StatusMsg{Notice: fmt.Sprintf("%s disconnected", displayName(ev.Participant))})
		}
		a.pushParticipants()
	}
}

// pushParticipants sends the roster with link states to the UI
func (a *App) pushParticipants() {
	if a.status == nil {
		return
	}
	a.notify(ui.StatusMsg{Participants: a.Participants()})
}

// Participants returns the remote room members with their link state
func (a *App) Participants() []ui.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participantsLocked()
}

func (a *App) participantsLocked() []ui.Participant {
	out := make([]ui.Participant, 0, len(a.roster))
	for _, p := range a.roster {
		view := ui.Participant{ID: p.ID, Name: p.Name, Instrument: p.Instrument}
		if a.peers != nil {
			if state, ok := a.peers.State(p.ID); ok {
				view.Link = state.String()
			}
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns the state of every peer link of the current session
func (a *App) Links() []peer.LinkInfo {
	a.mu.Lock()
	m := a.peers
	a.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Links()
}

// Self returns the local participant while joined
func (a *App) Self() (signal.Participant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self, a.peers != nil
}

// Chat sends a chat line to the room
func (a *App) Chat(text string) error {
	return a.coord.SendPayload(signal.TypeChat, "", signal.ChatPayload{Text: text})
}

// SetInstrument announces a new instrument to the room
func (a *App) SetInstrument(instrument string) error {
	return a.coord.SendPayload(signal.TypeInstrumentChanged, "", signal.InstrumentPayload{Instrument: instrument})
}

// disconnected tears down the session after signaling loss. Every link is
// closed; the reconnect loop joins again with a new participant id.
func (a *App) disconnected(msg signal.Message) {
	var p signal.DisconnectedPayload
	_ = msg.Decode(&p)
	log.Warnf("Lost rendezvous connection: %s", p.Reason)

	a.mu.Lock()
	a.closePeersLocked()
	a.roster = make(map[string]signal.Participant)
	a.mu.Unlock()

	connected := false
	a.notify(ui.StatusMsg{Connected: &connected, Notice: "connection lost, reconnecting..."})

	select {
	case a.lost <- struct{}{}:
	default:
	}
}

func (a *App) closePeersLocked() {
	if a.peers != nil {
		a.peers.Close()
		a.peers = nil
	}
	a.backlog = nil
	a.monitors.Close()
}

// Reconnect skips the remaining backoff of a pending rejoin
func (a *App) Reconnect() {
	if a.coord.Connected() {
		return
	}
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// reconnectLoop rejoins the room after each signaling loss, backing off
// exponentially between failed attempts
func (a *App) reconnectLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.lost:
		}

		backoff := a.settings.Signal.ReconnectBackoff
		if backoff <= 0 {
			backoff = time.Second
		}

		for {
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(backoff):
			case <-a.kick:
			}

			self, err := a.coord.Rejoin(a.ctx)
			if err == nil {
				log.Infof("Rejoined room %s as %s", a.config.Room, self.ID)
				a.install(*self)
				break
			}
			if !errors.Is(err, signal.ErrTransportUnavailable) {
				log.Errorf("Rejoin refused: %v", err)
				a.notify(ui.StatusMsg{Notice: err.Error()})
				break
			}

			log.Warnf("Rejoin failed, retrying in %s: %v", backoff, err)
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
		}
	}
}

func displayName(p signal.Participant) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
