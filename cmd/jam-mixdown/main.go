// ABOUTME: Offline mixdown command
// ABOUTME: Renders a saved mix descriptor into a single WAV file
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Resonate-Protocol/resonate-jam/internal/config"
	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixdown"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
)

var (
	configFile = flag.String("config", "", "Config file (TOML or YAML)")
	output     = flag.String("o", "", "Output WAV path (default: descriptor name with .wav)")
	chunk      = flag.Int("chunk-frames", 0, "Frames mixed per chunk (overrides mixdown.chunk_frames)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <mix.json>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		settings.Log.Level = "debug"
	}
	if *chunk > 0 {
		settings.Mixdown.ChunkFrames = *chunk
	}
	log.Init(log.Options{Level: settings.Log.Level, Output: os.Stderr, Console: true})

	descPath := flag.Arg(0)
	desc, err := readDescriptor(descPath)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(descPath, ".json") + ".wav"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := mixdown.New(mixdown.Config{ChunkFrames: settings.Mixdown.ChunkFrames})
	result, err := engine.Run(ctx, mixdown.NewJob(desc, out))
	if err != nil {
		log.Errorf("Mixdown failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d frames, %s\n", result.Output, result.Frames, result.Format)
}

func readDescriptor(path string) (mixer.MixDescriptor, error) {
	var desc mixer.MixDescriptor

	data, err := os.ReadFile(path)
	if err != nil {
		return desc, fmt.Errorf("failed to read mix descriptor: %w", err)
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("failed to parse mix descriptor %s: %w", path, err)
	}
	return desc, nil
}
