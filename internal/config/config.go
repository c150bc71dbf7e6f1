package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete replay daemon configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id" env:"REPLAY_INSTANCE_ID"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s" env:"REPLAY_SHUTDOWN_TIMEOUT_S"` // default: 5
	StatsIntervalS   int            `yaml:"stats_interval_s" env:"REPLAY_STATS_INTERVAL_S"`     // default: 10
	HealthPort       string         `yaml:"health_port" env:"REPLAY_HEALTH_PORT"`               // default: 8080
	Session          SessionConfig  `yaml:"session"`
	Playback         PlaybackConfig `yaml:"playback"`
	Media            MediaConfig    `yaml:"media"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
}

// SessionConfig optionally names a recording to load at startup
type SessionConfig struct {
	MediaPath    string `yaml:"media_path" env:"REPLAY_MEDIA_PATH"`
	EventLogPath string `yaml:"event_log_path" env:"REPLAY_EVENT_LOG_PATH"`
	MetadataPath string `yaml:"metadata_path" env:"REPLAY_METADATA_PATH"`
	Autoplay     bool   `yaml:"autoplay" env:"REPLAY_AUTOPLAY"`
}

// Configured reports whether a startup recording is set.
func (s SessionConfig) Configured() bool {
	return s.MediaPath != "" || s.EventLogPath != "" || s.MetadataPath != ""
}

// PlaybackConfig tunes the replay engine
type PlaybackConfig struct {
	QueueCapacity   int `yaml:"queue_capacity" env:"REPLAY_QUEUE_CAPACITY"`
	IdlePollMS      int `yaml:"idle_poll_ms" env:"REPLAY_IDLE_POLL_MS"`
	MaxPacingWaitMS int `yaml:"max_pacing_wait_ms" env:"REPLAY_MAX_PACING_WAIT_MS"`
	ShutdownGraceMS int `yaml:"shutdown_grace_ms" env:"REPLAY_SHUTDOWN_GRACE_MS"`
	ReadRetryMinMS  int `yaml:"read_retry_min_ms" env:"REPLAY_READ_RETRY_MIN_MS"`
	ReadRetryMaxMS  int `yaml:"read_retry_max_ms" env:"REPLAY_READ_RETRY_MAX_MS"`
}

// MediaConfig selects the media backend
type MediaConfig struct {
	Backend string `yaml:"backend" env:"REPLAY_MEDIA_BACKEND"` // container, gstreamer
	Width   int    `yaml:"width" env:"REPLAY_MEDIA_WIDTH"`     // gstreamer only, 0 keeps native size
	Height  int    `yaml:"height" env:"REPLAY_MEDIA_HEIGHT"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker        string          `yaml:"broker" env:"REPLAY_MQTT_BROKER"`
	ClientID      string          `yaml:"client_id" env:"REPLAY_MQTT_CLIENT_ID"`
	Topics        MQTTTopics      `yaml:"topics"`
	QoS           map[string]byte `yaml:"qos"` // control, status, data
	IncludeImages bool            `yaml:"include_images" env:"REPLAY_MQTT_INCLUDE_IMAGES"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
	Capture string `yaml:"capture"`
	Sensor  string `yaml:"sensor"`
	Input   string `yaml:"input"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the daemon shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the stats logging period.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalS) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// IdlePoll and the accessors below convert the playback settings.
func (p PlaybackConfig) IdlePoll() time.Duration      { return ms(p.IdlePollMS) }
func (p PlaybackConfig) MaxPacingWait() time.Duration { return ms(p.MaxPacingWaitMS) }
func (p PlaybackConfig) ShutdownGrace() time.Duration { return ms(p.ShutdownGraceMS) }
func (p PlaybackConfig) ReadRetryMin() time.Duration  { return ms(p.ReadRetryMinMS) }
func (p PlaybackConfig) ReadRetryMax() time.Duration  { return ms(p.ReadRetryMaxMS) }
