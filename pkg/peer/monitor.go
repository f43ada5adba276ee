// ABOUTME: Playback of a remote participant's live audio
// ABOUTME: Decodes inbound Opus into a ring the output bus pulls and meters it
package peer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio/ring"
	"github.com/Resonate-Protocol/resonate-jam/pkg/level"
)

// MonitorConfig configures remote monitors
type MonitorConfig struct {
	SampleRate int // defaults to 48000
	Channels   int // defaults to 2
	BufferMs   int // jitter allowance, defaults to 200
	Meter      level.Config
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.BufferMs <= 0 {
		c.BufferMs = 200
	}
	c.Meter.SampleRate = c.SampleRate
	c.Meter.Channels = c.Channels
	return c
}

// Monitor plays one participant's inbound audio. Write is called by the
// receiving goroutine and Render by the output callback; each side is a
// single goroutine.
type Monitor struct {
	participantID string
	decoder       decode.Decoder
	samples       *ring.Ring[int32]
	meter         *level.Processor

	overruns  atomic.Int64
	underruns atomic.Int64
}

// NewMonitor creates a monitor for one participant
func NewMonitor(participantID string, config MonitorConfig) (*Monitor, error) {
	config = config.withDefaults()

	dec, err := decode.NewOpus(audio.Format{
		Codec:      decode.CodecOpus,
		SampleRate: config.SampleRate,
		Channels:   config.Channels,
		BitDepth:   24,
	})
	if err != nil {
		return nil, fmt.Errorf("monitor for %s: %w", participantID, err)
	}

	capacity := 1
	for capacity < config.SampleRate*config.Channels*config.BufferMs/1000 {
		capacity <<= 1
	}

	return &Monitor{
		participantID: participantID,
		decoder:       dec,
		samples:       ring.New[int32](capacity),
		meter:         level.New(config.Meter),
	}, nil
}

// Write decodes one Opus packet into the playback buffer. Samples that do
// not fit are dropped.
func (m *Monitor) Write(packet []byte) error {
	pcm, err := m.decoder.Decode(packet)
	if err != nil {
		return err
	}
	if n := m.samples.Write(pcm); n < len(pcm) {
		m.overruns.Add(1)
	}
	return nil
}

// Render fills dst with buffered audio, padding with silence
func (m *Monitor) Render(dst []int32) {
	n := m.samples.Read(dst)
	if n < len(dst) {
		clear(dst[n:])
		if n > 0 {
			m.underruns.Add(1)
		}
	}
	_ = m.meter.Process(dst)
}

// ParticipantID returns the remote participant this monitor plays
func (m *Monitor) ParticipantID() string {
	return m.participantID
}

// Level returns the smoothed level of the played audio
func (m *Monitor) Level() float64 {
	return m.meter.Level()
}

// Meter returns the level processor so callers can adjust monitor gain
func (m *Monitor) Meter() *level.Processor {
	return m.meter
}

// Buffered returns the number of samples waiting to be played
func (m *Monitor) Buffered() int {
	return m.samples.Len()
}

// Overruns counts packets that did not fully fit in the buffer
func (m *Monitor) Overruns() int64 {
	return m.overruns.Load()
}

// Underruns counts renders that ran out of buffered audio
func (m *Monitor) Underruns() int64 {
	return m.underruns.Load()
}

// Monitors keeps one monitor per remote participant on an output bus
type Monitors struct {
	config MonitorConfig
	bus    *output.Bus

	mu      sync.Mutex
	entries map[string]monitorEntry
}

type monitorEntry struct {
	monitor *Monitor
	remove  func()
}

// NewMonitors creates a registry feeding bus
func NewMonitors(config MonitorConfig, bus *output.Bus) *Monitors {
	return &Monitors{
		config:  config.withDefaults(),
		bus:     bus,
		entries: make(map[string]monitorEntry),
	}
}

// Open creates the monitor for a participant and adds it to the bus,
// replacing any previous one
func (ms *Monitors) Open(participantID string) (*Monitor, error) {
	mon, err := NewMonitor(participantID, ms.config)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if old, ok := ms.entries[participantID]; ok {
		old.remove()
	}
	ms.entries[participantID] = monitorEntry{monitor: mon, remove: ms.bus.Add(mon)}
	return mon, nil
}

// Remove takes a participant's monitor off the bus
func (ms *Monitors) Remove(participantID string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if e, ok := ms.entries[participantID]; ok {
		e.remove()
		delete(ms.entries, participantID)
	}
}

// Get returns a participant's monitor
func (ms *Monitors) Get(participantID string) (*Monitor, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	e, ok := ms.entries[participantID]
	return e.monitor, ok
}

// Levels returns the current level of every monitor
func (ms *Monitors) Levels() map[string]float64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	levels := make(map[string]float64, len(ms.entries))
	for id, e := range ms.entries {
		levels[id] = e.monitor.Level()
	}
	return levels
}

// Close removes every monitor
func (ms *Monitors) Close() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for id, e := range ms.entries {
		e.remove()
		delete(ms.entries, id)
	}
}
