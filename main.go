// ABOUTME: Entry point for the jam client
// ABOUTME: Parses CLI flags, joins a room and drives the TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Resonate-Protocol/resonate-jam/internal/app"
	"github.com/Resonate-Protocol/resonate-jam/internal/config"
	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/internal/ui"
	"github.com/Resonate-Protocol/resonate-jam/internal/version"
	"github.com/Resonate-Protocol/resonate-jam/pkg/mixer"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	configFile = flag.String("config", "", "Config file (TOML or YAML)")
	url        = flag.String("url", "", "Rendezvous WebSocket URL (default: discover via mDNS)")
	room       = flag.String("room", "jam", "Room to join")
	name       = flag.String("name", "", "Display name (default: hostname)")
	instrument = flag.String("instrument", "", "Instrument shown to other participants")
	tracks     = flag.String("tracks", "", "Comma-separated audio files to load as backing tracks")
	mixPath    = flag.String("mix-path", "", "Where to save the mix descriptor (default: <room>-mix.json)")
	backend    = flag.String("backend", "", "Audio backend: malgo, oto or none (overrides audio.backend)")
	noCapture  = flag.Bool("no-capture", false, "Do not capture or send the microphone")
	logFile    = flag.String("log-file", "resonate-jam.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *url != "" {
		settings.Signal.URL = *url
	}
	if *backend != "" {
		settings.Audio.Backend = *backend
	}
	if *noCapture {
		settings.Audio.Capture = false
	}
	if *debug {
		settings.Log.Level = "debug"
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.Init(log.Options{Level: settings.Log.Level, Output: f, Console: true, NoColor: true})
	} else {
		log.Init(log.Options{Level: settings.Log.Level, Output: io.MultiWriter(os.Stdout, f), Console: true, NoColor: true})
	}

	displayName := *name
	if displayName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		displayName = hostname
	}

	client, err := app.New(app.Config{
		URL:        settings.Signal.URL,
		Room:       *room,
		Name:       displayName,
		Instrument: *instrument,
		Tracks:     parseTracks(*tracks),
		MixPath:    *mixPath,
		Settings:   settings,
	})
	if err != nil {
		log.Errorf("Failed to create client: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var prog *tea.Program
	if useTUI {
		prog, err = ui.Run(client.Controls())
		if err != nil {
			log.Errorf("Failed to start TUI: %v", err)
			os.Exit(1)
		}
		client.SetStatus(prog.Send)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := prog.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
		}()
		defer func() {
			prog.Quit()
			<-done
		}()
	} else {
		log.Infof("Starting %s as %s in room %s", version.Product, displayName, *room)
	}

	if err := client.Run(ctx); err != nil {
		log.Errorf("Session error: %v", err)
		if prog != nil {
			prog.Quit()
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log.Infof("Client stopped")
}

// parseTracks turns a comma-separated list of paths into track sources
// named after their files
func parseTracks(list string) []mixer.Source {
	var sources []mixer.Source
	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		base := filepath.Base(path)
		sources = append(sources, mixer.Source{
			Name: strings.TrimSuffix(base, filepath.Ext(base)),
			Path: path,
		})
	}
	return sources
}
