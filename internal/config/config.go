// ABOUTME: Layered configuration for jam binaries
// ABOUTME: Defaults, optional TOML/YAML file and JAM_* environment overrides via viper
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (JAM_SIGNAL_URL, ...)
const EnvPrefix = "JAM"

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Signal struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

type ICE struct {
	STUN       []string `mapstructure:"stun"`
	TURN       []string `mapstructure:"turn"`
	TURNUser   string   `mapstructure:"turn_user"`
	TURNPass   string   `mapstructure:"turn_pass"`
	ForceRelay bool     `mapstructure:"force_relay"`
	// RenegotiationTimeout bounds the single recovery attempt of a dropped link
	RenegotiationTimeout time.Duration `mapstructure:"renegotiation_timeout"`
}

type Audio struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	BitDepth   int    `mapstructure:"bit_depth"`
	Backend    string `mapstructure:"backend"` // malgo, oto or none
	FrameMs    int    `mapstructure:"frame_ms"`
	Capture    bool   `mapstructure:"capture"`
}

type Meter struct {
	Smoothing float64 `mapstructure:"smoothing"`
	Gain      float64 `mapstructure:"gain"`
	ReportHz  float64 `mapstructure:"report_hz"`
}

type Rendezvous struct {
	Addr            string `mapstructure:"addr"`
	Name            string `mapstructure:"name"`
	MaxParticipants int    `mapstructure:"max_participants"`
	AutoCreate      bool   `mapstructure:"auto_create"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	MDNS            bool   `mapstructure:"mdns"`
}

type Mixdown struct {
	ChunkFrames int `mapstructure:"chunk_frames"`
}

// Config is the full configuration tree shared by all binaries
type Config struct {
	Log        Log        `mapstructure:"log"`
	Signal     Signal     `mapstructure:"signal"`
	ICE        ICE        `mapstructure:"ice"`
	Audio      Audio      `mapstructure:"audio"`
	Meter      Meter      `mapstructure:"meter"`
	Rendezvous Rendezvous `mapstructure:"rendezvous"`
	Mixdown    Mixdown    `mapstructure:"mixdown"`
}

var defaults = map[string]interface{}{
	"log.level":                   "info",
	"log.file":                    "",
	"signal.url":                  "",
	"signal.handshake_timeout":    "5s",
	"signal.write_timeout":        "10s",
	"signal.ping_interval":        "30s",
	"signal.reconnect_backoff":    "2s",
	"ice.stun":                    []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
	"ice.turn":                    []string{},
	"ice.turn_user":               "",
	"ice.turn_pass":               "",
	"ice.force_relay":             false,
	"ice.renegotiation_timeout":   "10s",
	"audio.sample_rate":           48000,
	"audio.channels":              2,
	"audio.bit_depth":             16,
	"audio.backend":               "malgo",
	"audio.frame_ms":              20,
	"audio.capture":               true,
	"meter.smoothing":             0.8,
	"meter.gain":                  1.0,
	"meter.report_hz":             30.0,
	"rendezvous.addr":             ":8930",
	"rendezvous.name":             "Resonate Jam",
	"rendezvous.max_participants": 6,
	"rendezvous.auto_create":      true,
	"rendezvous.redis_addr":       "",
	"rendezvous.redis_password":   "",
	"rendezvous.redis_db":         0,
	"rendezvous.mdns":             true,
	"mixdown.chunk_frames":        4096,
}

// Load builds the configuration. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("built-in config invalid: %v", err))
	}
	return cfg
}

// Validate rejects settings no component can run with. Continuous controls
// (gain, smoothing) are clamped by their owners instead.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	switch c.Audio.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("audio.bit_depth must be 16, 24 or 32, got %d", c.Audio.BitDepth)
	}
	switch c.Audio.Backend {
	case "malgo", "oto", "none":
	default:
		return fmt.Errorf("audio.backend must be malgo, oto or none, got %q", c.Audio.Backend)
	}
	if c.Rendezvous.MaxParticipants < 1 {
		return fmt.Errorf("rendezvous.max_participants must be at least 1")
	}
	if c.Mixdown.ChunkFrames < 1 {
		return fmt.Errorf("mixdown.chunk_frames must be at least 1")
	}
	return nil
}
