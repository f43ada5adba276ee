// ABOUTME: Device-less output that pulls from its source on a wall-clock ticker
// ABOUTME: Keeps the mixer clock and meters running when no sound card is used
package output

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
)

// DefaultNullPeriod is the pull interval used when none is given
const DefaultNullPeriod = 10 * time.Millisecond

// Null renders its source in real time and discards the samples
type Null struct {
	period time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	frames atomic.Int64
}

// NewNull creates a headless output pulling every period
func NewNull(period time.Duration) *Null {
	if period <= 0 {
		period = DefaultNullPeriod
	}
	return &Null{period: period}
}

// Open starts pulling from src
func (n *Null) Open(format audio.Format, src Source) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return errors.New("null output needs a sample rate and channel count")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		return errors.New("null output already open")
	}

	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	go n.run(format, src, n.stop, n.done)
	return nil
}

// run owes the source as many frames as wall time has elapsed, so a late
// tick is made up on the next one
func (n *Null) run(format audio.Format, src Source, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	buf := make([]int32, scratchFrames*format.Channels)
	start := time.Now()
	var rendered int64

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			owed := int64(now.Sub(start)) * int64(format.SampleRate) / int64(time.Second)
			for rendered < owed {
				frames := owed - rendered
				if frames > scratchFrames {
					frames = scratchFrames
				}
				src.Render(buf[:int(frames)*format.Channels])
				rendered += frames
				n.frames.Add(frames)
			}
		}
	}
}

// FramesPlayed returns the number of frames pulled from the source
func (n *Null) FramesPlayed() int64 {
	return n.frames.Load()
}

// Close stops pulling. It is safe to call more than once.
func (n *Null) Close() error {
	n.mu.Lock()
	stop, done := n.stop, n.done
	n.stop, n.done = nil, nil
	n.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
