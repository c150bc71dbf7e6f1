package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	BackendContainer = "container"
	BackendGStreamer = "gstreamer"
)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.HealthPort == "" {
		cfg.HealthPort = "8080"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.StatsIntervalS < 0 {
		return fmt.Errorf("stats_interval_s must be >= 0")
	}
	if cfg.StatsIntervalS == 0 {
		cfg.StatsIntervalS = 10
	}

	// Zero playback values are left to the engine defaults
	p := cfg.Playback
	if p.QueueCapacity < 0 || p.IdlePollMS < 0 || p.MaxPacingWaitMS < 0 ||
		p.ShutdownGraceMS < 0 || p.ReadRetryMinMS < 0 || p.ReadRetryMaxMS < 0 {
		return fmt.Errorf("playback values must be >= 0")
	}
	if p.ReadRetryMaxMS > 0 && p.ReadRetryMaxMS < p.ReadRetryMinMS {
		return fmt.Errorf("playback.read_retry_max_ms must be >= read_retry_min_ms")
	}

	switch cfg.Media.Backend {
	case "":
		cfg.Media.Backend = BackendContainer
	case BackendContainer, BackendGStreamer:
	default:
		return fmt.Errorf("media.backend must be %q or %q, got %q", BackendContainer, BackendGStreamer, cfg.Media.Backend)
	}
	if cfg.Media.Width < 0 || cfg.Media.Height < 0 {
		return fmt.Errorf("media.width and media.height must be >= 0")
	}

	s := cfg.Session
	if s.Configured() && (s.MediaPath == "" || s.EventLogPath == "" || s.MetadataPath == "") {
		return fmt.Errorf("session requires media_path, event_log_path and metadata_path together")
	}
	if s.Autoplay && !s.Configured() {
		return fmt.Errorf("session.autoplay requires a session")
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = fmt.Sprintf("replay-%s", cfg.InstanceID)
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("replay/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("replay/status/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Capture == "" {
		cfg.MQTT.Topics.Capture = fmt.Sprintf("replay/capture/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Sensor == "" {
		cfg.MQTT.Topics.Sensor = fmt.Sprintf("replay/sensor/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Input == "" {
		cfg.MQTT.Topics.Input = fmt.Sprintf("replay/input/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{}
	}
	defaults := map[string]byte{
		"control": 1,
		"status":  0,
		"data":    0,
	}
	for k, v := range defaults {
		if _, ok := cfg.MQTT.QoS[k]; !ok {
			cfg.MQTT.QoS[k] = v
		}
	}
	for k, v := range cfg.MQTT.QoS {
		if v > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", k, v)
		}
	}

	return nil
}
