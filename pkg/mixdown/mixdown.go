// ABOUTME: Deterministic offline mixdown of WAV tracks
// ABOUTME: Streams inputs chunk by chunk into an atomically written WAV file
package mixdown

import (
	"context"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/renameio/v2"
)

const DefaultChunkFrames = 4096

// Config configures a mixdown engine
type Config struct {
	ChunkFrames int
	OnComplete  func(Result)
}

// Engine runs mixdown jobs. It holds no state between runs and may be
// shared.
type Engine struct {
	config Config
}

// New creates a mixdown engine
func New(config Config) *Engine {
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = DefaultChunkFrames
	}
	return &Engine{config: config}
}

// Run mixes every unmuted track of job into job.Output. All inputs are
// validated before the output is created; on any failure no output file
// is left behind. Identical jobs produce byte-identical files.
func (e *Engine) Run(ctx context.Context, job Job) (Result, error) {
	if len(job.Tracks) == 0 {
		return Result{}, errors.New("mixdown job has no tracks")
	}
	if job.Output == "" {
		return Result{}, errors.New("mixdown job has no output path")
	}

	inputs := make([]*input, 0, len(job.Tracks))
	defer func() {
		for _, in := range inputs {
			in.Close()
		}
	}()

	for i, track := range job.Tracks {
		in, err := openInput(i, track)
		if err != nil {
			return Result{}, err
		}
		inputs = append(inputs, in)

		if want := inputs[0].format; !want.SameLayout(in.format) {
			return Result{}, &FormatMismatchError{Index: i, Path: track.Path, Want: want, Got: in.format}
		}
	}

	format := inputs[0].format
	active := make([]*input, 0, len(inputs))
	for _, in := range inputs {
		if !in.track.Muted {
			active = append(active, in)
		}
	}

	log.Infof("Mixdown: %d of %d tracks at %s -> %s", len(active), len(inputs), format, job.Output)

	frames, err := e.write(ctx, job.Output, format, active)
	if err != nil {
		return Result{}, err
	}

	result := Result{Output: job.Output, Format: format, Frames: frames}
	log.Infof("Mixdown complete: %s (%d frames)", job.Output, frames)
	if e.config.OnComplete != nil {
		e.config.OnComplete(result)
	}
	return result, nil
}

func (e *Engine) write(ctx context.Context, path string, format audio.Format, active []*input) (int64, error) {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("failed to create output: %w", err)
	}
	defer pf.Cleanup()

	enc := wav.NewEncoder(pf, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)

	chunkSamples := e.config.ChunkFrames * format.Channels
	acc := make([]float64, chunkSamples)
	out := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, 0, chunkSamples),
		SourceBitDepth: format.BitDepth,
	}

	// the header is written with the first buffer, even an empty one
	if err := enc.Write(out); err != nil {
		return 0, fmt.Errorf("failed to write output header: %w", err)
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("mixdown cancelled: %w", err)
		}

		clear(acc)
		longest := 0
		for _, in := range active {
			n, err := in.read(chunkSamples)
			if err != nil {
				return 0, err
			}
			mixInput(acc[:n], in.buf[:n], format.Channels, in.volume, in.gains)
			if n > longest {
				longest = n
			}
		}
		if longest == 0 {
			break
		}

		out.Data = out.Data[:longest]
		for i := range out.Data {
			out.Data[i] = int(audio.ClampFloat(acc[i], format.BitDepth))
		}
		if err := enc.Write(out); err != nil {
			return 0, fmt.Errorf("failed to write output: %w", err)
		}
		total += int64(longest / format.Channels)
	}

	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize output: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("failed to commit output: %w", err)
	}
	return total, nil
}

// mixInput adds one input's samples into acc. Explicit float64
// conversions keep the compiler from fusing multiply-adds, so results do
// not vary by architecture.
func mixInput(acc []float64, samples []int, channels int, volume float64, g audio.StereoGains) {
	if channels != 2 {
		for i, s := range samples {
			acc[i] += float64(float64(s) * volume)
		}
		return
	}

	for i := 0; i+1 < len(samples); i += 2 {
		l := float64(samples[i])
		r := float64(samples[i+1])
		acc[i] += float64(float64(l*g.LL) + float64(r*g.RL))
		acc[i+1] += float64(float64(l*g.LR) + float64(r*g.RR))
	}
}
