// Package config loads server configuration from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/spatial"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Jitter  JitterConfig  `yaml:"jitter"`
	Mixer   MixerConfig   `yaml:"mixer"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listen addresses. An empty address disables that
// listener.
type ServerConfig struct {
	QUICAddr string `yaml:"quic_addr"`
	SRTAddr  string `yaml:"srt_addr"`
	APIAddr  string `yaml:"api_addr"`
}

// AudioConfig fixes the frame format shared by every stream.
type AudioConfig struct {
	SampleRate        int `yaml:"sample_rate"`
	SamplesPerChannel int `yaml:"samples_per_channel"`
	RingFrames        int `yaml:"ring_frames"`
}

// JitterConfig selects how stream buffers are sized.
type JitterConfig struct {
	Dynamic             bool `yaml:"dynamic"`
	StaticDesiredFrames int  `yaml:"static_desired_frames"`
	Padding             int  `yaml:"padding"`
}

// MixerConfig controls the tick loop and stats reporting.
type MixerConfig struct {
	Workers       int           `yaml:"workers"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	MaxPacketSize int           `yaml:"max_packet_size"`
	// Streams positioned inside SourceZone are heard unattenuated by
	// listeners inside ListenerZone. Both must be set to take effect.
	SourceZone   *spatial.Box `yaml:"source_zone"`
	ListenerZone *spatial.Box `yaml:"listener_zone"`
}

// LoggingConfig sets the log level: debug, info, warn or error.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			QUICAddr: ":4443",
			SRTAddr:  ":6000",
			APIAddr:  ":4444",
		},
		Audio: AudioConfig{
			SampleRate:        jitter.DefaultFormat.SampleRate,
			SamplesPerChannel: jitter.DefaultFormat.SamplesPerChannel,
			RingFrames:        jitter.DefaultFormat.RingFrames,
		},
		Jitter: JitterConfig{
			Dynamic:             jitter.DefaultPolicy.Dynamic,
			StaticDesiredFrames: jitter.DefaultPolicy.StaticDesiredFrames,
			Padding:             jitter.DefaultPolicy.Padding,
		},
		Mixer: MixerConfig{
			Workers:       4,
			StatsInterval: time.Second,
			MaxPacketSize: 1200,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration. It starts from Default, overlays the YAML
// file at path when path is non-empty, loads a .env file from the working
// directory if one exists, applies environment overrides and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
// DEBUG, when non-empty, forces the debug log level.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("SONAR_QUIC_ADDR", &c.Server.QUICAddr)
	str("SONAR_SRT_ADDR", &c.Server.SRTAddr)
	str("SONAR_API_ADDR", &c.Server.APIAddr)
	str("SONAR_LOG_LEVEL", &c.Logging.Level)
	if getenv("DEBUG") != "" {
		c.Logging.Level = "debug"
	}

	if v := getenv("SONAR_DYNAMIC_JITTER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SONAR_DYNAMIC_JITTER: %w", err)
		}
		c.Jitter.Dynamic = b
	}
	if v := getenv("SONAR_STATS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SONAR_STATS_INTERVAL: %w", err)
		}
		c.Mixer.StatsInterval = d
	}
	return errors.Join(
		integer("SONAR_STATIC_DESIRED_FRAMES", &c.Jitter.StaticDesiredFrames),
		integer("SONAR_WORKERS", &c.Mixer.Workers),
		integer("SONAR_MAX_PACKET_SIZE", &c.Mixer.MaxPacketSize),
	)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Format().Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Jitter.Policy().Validate(c.Audio.Format()); err != nil {
		return fmt.Errorf("jitter config: %w", err)
	}
	if err := c.Mixer.Validate(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks that at least one transport is enabled.
func (s *ServerConfig) Validate() error {
	if s.QUICAddr == "" && s.SRTAddr == "" {
		return errors.New("at least one of quic_addr and srt_addr must be set")
	}
	return nil
}

// Validate checks the tick and reporting parameters.
func (m *MixerConfig) Validate() error {
	if m.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", m.Workers)
	}
	if m.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be positive, got %s", m.StatsInterval)
	}
	if protocol.StatsCapacity(m.MaxPacketSize) < 1 {
		return fmt.Errorf("max_packet_size %d cannot hold a stats record", m.MaxPacketSize)
	}
	if (m.SourceZone == nil) != (m.ListenerZone == nil) {
		return errors.New("source_zone and listener_zone must be set together")
	}
	return nil
}

// Validate checks the level name.
func (l *LoggingConfig) Validate() error {
	if _, err := l.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level.
func (l *LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
}

// Format converts the audio section.
func (a AudioConfig) Format() jitter.Format {
	return jitter.Format{
		SampleRate:        a.SampleRate,
		SamplesPerChannel: a.SamplesPerChannel,
		RingFrames:        a.RingFrames,
	}
}

// Policy converts the jitter section.
func (j JitterConfig) Policy() jitter.Policy {
	return jitter.Policy{
		Dynamic:             j.Dynamic,
		StaticDesiredFrames: j.StaticDesiredFrames,
		Padding:             j.Padding,
	}
}
