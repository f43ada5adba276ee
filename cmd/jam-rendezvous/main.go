// ABOUTME: Entry point for the jam rendezvous server
// ABOUTME: Loads configuration, wires room stores, advertises over mDNS and serves signaling
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/config"
	"github.com/Resonate-Protocol/resonate-jam/internal/discovery"
	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/internal/rendezvous"
	"github.com/Resonate-Protocol/resonate-jam/internal/version"
)

var (
	configFile = flag.String("config", "", "Config file (TOML or YAML)")
	addr       = flag.String("addr", "", "Listen address (overrides rendezvous.addr)")
	name       = flag.String("name", "", "Advertised name (default: hostname-jam-rendezvous)")
	redisAddr  = flag.String("redis", "", "Redis address for room directory and presence (overrides rendezvous.redis_addr)")
	logFile    = flag.String("log-file", "", "Also log to this file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s rendezvous %s\n", version.Product, version.Version)
		return
	}

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		settings.Rendezvous.Addr = *addr
	}
	if *redisAddr != "" {
		settings.Rendezvous.RedisAddr = *redisAddr
	}
	if *noMDNS {
		settings.Rendezvous.MDNS = false
	}
	if *logFile != "" {
		settings.Log.File = *logFile
	}
	if *debug {
		settings.Log.Level = "debug"
	}

	// Log to console, and to the file when one is configured
	var out io.Writer = os.Stdout
	if settings.Log.File != "" {
		f, err := os.OpenFile(settings.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	log.Init(log.Options{Level: settings.Log.Level, Output: out, Console: true, NoColor: settings.Log.File != ""})

	instance := *name
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		instance = fmt.Sprintf("%s-jam-rendezvous", hostname)
	}

	directory, presence, closeStores, err := openStores(settings.Rendezvous)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	defer closeStores()

	srv := rendezvous.New(rendezvous.Config{
		Addr:            settings.Rendezvous.Addr,
		MaxParticipants: settings.Rendezvous.MaxParticipants,
		AutoCreate:      settings.Rendezvous.AutoCreate,
	}, directory, presence)

	log.Infof("Starting %s (%s %s)", instance, version.Product, version.Version)
	if err := srv.Start(); err != nil {
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}

	var disc *discovery.Manager
	if settings.Rendezvous.MDNS {
		disc = advertise(instance, srv.Addr())
	}

	log.Infof("Press Ctrl-C to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received %v signal, shutting down gracefully...", sig)

	if disc != nil {
		disc.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("Shutdown error: %v", err)
	}

	log.Infof("Server stopped")
}

// openStores selects Redis-backed stores when an address is configured
func openStores(cfg config.Rendezvous) (rendezvous.Directory, rendezvous.Presence, func(), error) {
	if cfg.RedisAddr == "" {
		log.Infof("Using in-memory room directory")
		return rendezvous.NewMemoryDirectory(), rendezvous.NewMemoryPresence(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := rendezvous.ConnectRedis(ctx, rendezvous.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log.Infof("Using Redis room directory at %s", cfg.RedisAddr)

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warnf("Error closing Redis client: %v", err)
		}
	}
	return rendezvous.NewRedisDirectory(client, 0), rendezvous.NewRedisPresence(client), closeFn, nil
}

func advertise(instance string, addr net.Addr) *discovery.Manager {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		log.Warnf("Cannot advertise non-TCP address %v", addr)
		return nil
	}

	disc := discovery.NewManager(discovery.Config{Instance: instance, Port: tcp.Port})
	if err := disc.Advertise(); err != nil {
		log.Warnf("mDNS advertisement failed: %v", err)
		disc.Stop()
		return nil
	}
	return disc
}
