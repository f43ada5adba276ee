// ABOUTME: Jam client application orchestration
// ABOUTME: Coordinates signaling, peer links, the mixer, audio devices and the UI
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/config"
	"github.com/Resonate-Protocol/resonate-jam/internal/discovery"
	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/internal/ui"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/capture"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-jam/pkg/level"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
	"github.com/Resonate-Protocol/resonate-jam/pkg/peer"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/google/renameio/v2"
)

const (
	statusInterval   = 100 * time.Millisecond
	discoveryTimeout = 10 * time.Second
)

// Config holds client configuration
type Config struct {
	URL        string // rendezvous websocket URL; found over mDNS when empty
	Room       string
	Name       string
	Instrument string
	Tracks     []mixer.Source
	MixPath    string // destination of SaveMix, defaults to <room>-mix.json

	Settings *config.Config

	// Status receives UI updates; nil with a TUI sends them to the program
	Status func(ui.StatusMsg)

	// Factory and Output replace the pion transport and the audio device
	Factory peer.TransportFactory
	Output  output.Output
}

// App is the jam client
type App struct {
	config   Config
	settings *config.Config

	coord    *signal.Coordinator
	engine   *mixer.Engine
	bus      *output.Bus
	master   *level.Processor
	out      output.Output
	monitors *peer.Monitors
	capture  *capture.Capture
	input    *level.Processor
	outbound *peer.OutboundTrack
	factory  peer.TransportFactory
	controls *ui.Controls
	status   func(ui.StatusMsg)

	mu      sync.Mutex
	peers   *peer.Manager // nil between sessions
	self    signal.Participant
	roster  map[string]signal.Participant
	backlog []signal.Message
	unsubs  []func()

	lost chan struct{}
	kick chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds the client and its audio graph. No device or network is
// touched until Start.
func New(cfg Config) (*App, error) {
	if cfg.Room == "" {
		return nil, errors.New("room is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("name is required")
	}
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.MixPath == "" {
		cfg.MixPath = cfg.Room + "-mix.json"
	}
	s := cfg.Settings

	meterConfig := func() level.Config {
		return level.Config{
			SampleRate: s.Audio.SampleRate,
			Channels:   mixer.Channels,
			Smoothing:  s.Meter.Smoothing,
			Gain:       s.Meter.Gain,
			ReportHz:   s.Meter.ReportHz,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		config:   cfg,
		settings: s,
		engine:   mixer.New(mixer.Config{SampleRate: s.Audio.SampleRate}),
		bus:      output.NewBus(mixer.Channels),
		master:   level.New(meterConfig()),
		controls: ui.NewControls(),
		status:   cfg.Status,
		roster:   make(map[string]signal.Participant),
		lost:     make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.bus.Add(a.engine)
	a.monitors = peer.NewMonitors(peer.MonitorConfig{
		SampleRate: s.Audio.SampleRate,
		Channels:   mixer.Channels,
		Meter:      meterConfig(),
	}, a.bus)

	if s.Audio.Capture {
		a.capture = capture.New(capture.Config{
			SampleRate: s.Audio.SampleRate,
			Channels:   s.Audio.Channels,
			FrameMs:    s.Audio.FrameMs,
		})
		inputConfig := meterConfig()
		inputConfig.Channels = s.Audio.Channels
		a.input = level.New(inputConfig)

		outbound, err := peer.NewOutboundTrack("jam-"+cfg.Name, a.capture.Format(), a.input)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create outbound track: %w", err)
		}
		a.outbound = outbound
	}

	a.factory = cfg.Factory
	if a.factory == nil {
		factory, err := peer.NewPionFactory(peer.PionConfig{
			ICE: peer.ICEConfig{
				STUN:       s.ICE.STUN,
				TURN:       s.ICE.TURN,
				TURNUser:   s.ICE.TURNUser,
				TURNPass:   s.ICE.TURNPass,
				ForceRelay: s.ICE.ForceRelay,
			},
			Outbound: a.outbound,
			Monitors: a.monitors,
		})
		if err != nil {
			a.closeAudio()
			cancel()
			return nil, err
		}
		a.factory = factory
	}

	a.out = cfg.Output
	if a.out == nil {
		switch s.Audio.Backend {
		case "oto":
			a.out = output.NewOto()
		case "malgo":
			a.out = output.NewMalgo()
		default:
			a.out = output.NewNull(time.Duration(s.Audio.FrameMs) * time.Millisecond)
		}
	}

	return a, nil
}

// Controls returns the channels the TUI issues commands on
func (a *App) Controls() *ui.Controls {
	return a.controls
}

// Engine returns the session mixer
func (a *App) Engine() *mixer.Engine {
	return a.engine
}

// SetStatus sets the UI sink. Call before Start.
func (a *App) SetStatus(fn func(ui.StatusMsg)) {
	a.status = fn
}

// Start resolves the rendezvous, joins the room and starts audio. Track
// load failures are reported but do not stop the session.
func (a *App) Start(ctx context.Context) error {
	url := a.config.URL
	if url == "" {
		log.Infof("Looking for a rendezvous on the local network...")
		svc, err := discovery.Find(ctx, discoveryTimeout)
		if err != nil {
			return fmt.Errorf("no rendezvous url given and none discovered: %w", err)
		}
		url = svc.URL()
		log.Infof("Discovered rendezvous %s at %s", svc.Name, url)
	}

	a.coord = signal.NewCoordinator(signal.Config{
		URL:              url,
		HandshakeTimeout: a.settings.Signal.HandshakeTimeout,
		WriteTimeout:     a.settings.Signal.WriteTimeout,
		PingInterval:     a.settings.Signal.PingInterval,
	})
	a.subscribe()

	if a.out != nil {
		format := audio.Format{
			Codec:      "pcm",
			SampleRate: a.settings.Audio.SampleRate,
			Channels:   mixer.Channels,
			BitDepth:   a.settings.Audio.BitDepth,
		}
		if err := a.out.Open(format, level.NewTap(a.bus, a.master)); err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
	}

	if err := a.join(ctx); err != nil {
		return err
	}

	if len(a.config.Tracks) > 0 {
		if _, err := a.engine.LoadTracks(ctx, a.config.Tracks); err != nil {
			log.Warnf("Some tracks failed to load: %v", err)
			a.notify(ui.StatusMsg{Notice: err.Error()})
		}
	}

	if a.capture != nil {
		if err := a.capture.Start(); err != nil {
			log.Warnf("Microphone unavailable, continuing receive-only: %v", err)
			a.notify(ui.StatusMsg{Notice: "microphone unavailable"})
		} else {
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.capture.Run(a.ctx, a.sendFrame)
			}()
		}
	}

	a.wg.Add(4)
	go a.reconnectLoop()
	go a.commandLoop()
	go a.trackEventLoop()
	go a.statusLoop()

	a.pushTracks()
	return nil
}

func (a *App) sendFrame(frame []int32) {
	if err := a.outbound.WriteFrame(frame); err != nil {
		log.Debugf("Outbound frame dropped: %v", err)
	}
}

// Run starts the client and blocks until ctx is done or the TUI quits
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.controls.Quit:
		log.Infof("Received quit signal from TUI")
	}

	a.Stop()
	return nil
}

// Stop leaves the room and releases every device
func (a *App) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *App) stop() {
	a.cancel()

	a.mu.Lock()
	for _, unsubscribe := range a.unsubs {
		unsubscribe()
	}
	a.unsubs = nil
	a.closePeersLocked()
	a.mu.Unlock()

	if a.coord != nil {
		if err := a.coord.Leave(); err != nil {
			log.Warnf("Leave failed: %v", err)
		}
	}

	a.wg.Wait()
	a.closeAudio()
	if err := a.engine.Close(); err != nil {
		log.Warnf("Error closing mixer: %v", err)
	}
	log.Infof("Client stopped")
}

func (a *App) closeAudio() {
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			log.Warnf("Error closing capture: %v", err)
		}
	}
	if a.outbound != nil {
		a.outbound.Close()
	}
	if a.out != nil {
		if err := a.out.Close(); err != nil {
			log.Warnf("Error closing output: %v", err)
		}
	}
	a.monitors.Close()
}

// SaveMix writes the current mix descriptor as JSON. The file is replaced
// atomically.
func (a *App) SaveMix(path string) error {
	data, err := json.MarshalIndent(a.engine.SaveMix(), "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save mix: %w", err)
	}
	log.Infof("Saved mix to %s", path)
	return nil
}

// commandLoop applies user actions from the TUI
func (a *App) commandLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.controls.Commands:
			a.apply(cmd)
		}
	}
}

func (a *App) apply(cmd ui.Command) {
	switch cmd.Kind {
	case ui.CommandPlay:
		a.engine.Play()
	case ui.CommandPause:
		a.engine.Pause()
	case ui.CommandStop:
		a.engine.Stop()
	case ui.CommandSeek:
		a.engine.Seek(cmd.Position)
	case ui.CommandTrackParams:
		if err := a.engine.SetParams(cmd.Track, cmd.Params); err != nil {
			log.Warnf("Track %s: %v", cmd.Track, err)
		}
	case ui.CommandMicMute:
		a.SetMicMuted(cmd.Enabled)
	case ui.CommandMasterVolume:
		a.bus.SetVolume(int(cmd.Value))
	case ui.CommandSaveMix:
		if err := a.SaveMix(a.config.MixPath); err != nil {
			log.Errorf("%v", err)
			a.notify(ui.StatusMsg{Notice: err.Error()})
		} else {
			a.notify(ui.StatusMsg{Notice: "mix saved to " + a.config.MixPath})
		}
	case ui.CommandReconnect:
		a.Reconnect()
	}
}

// SetMicMuted mutes the outbound track of every link without renegotiating
func (a *App) SetMicMuted(muted bool) {
	a.mu.Lock()
	m := a.peers
	a.mu.Unlock()

	if m != nil {
		m.SetMuted(muted)
	} else if a.outbound != nil {
		a.outbound.SetMuted(muted)
	}
	a.notify(ui.StatusMsg{MicMuted: &muted})
}

// trackEventLoop republishes the track list whenever the engine changes it
func (a *App) trackEventLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-a.engine.Events():
			if !ok {
				return
			}
			log.Debugf("Track %s: %s", ev.Kind, ev.Track.Source)
			a.pushTracks()
		}
	}
}

func (a *App) pushTracks() {
	tracks := a.engine.Tracks()
	if tracks == nil {
		tracks = []mixer.TrackInfo{}
	}
	a.notify(ui.StatusMsg{Tracks: tracks})
}

// statusLoop periodically sends meters and transport position to the UI
func (a *App) statusLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var levels ui.Levels
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if v, ok := a.master.Poll(); ok {
				levels.Output = v
			}
			if a.input != nil {
				if v, ok := a.input.Poll(); ok {
					levels.Input = v
				}
			}
			levels.Peers = a.monitors.Levels()

			snapshot := levels
			a.notify(ui.StatusMsg{
				Levels: &snapshot,
				Transport: &ui.Transport{
					State:    a.engine.State(),
					Position: a.engine.Position(),
					Duration: a.engine.Duration(),
				},
			})
		}
	}
}

func (a *App) notify(msg ui.StatusMsg) {
	if a.status != nil {
		a.status(msg)
	}
}
