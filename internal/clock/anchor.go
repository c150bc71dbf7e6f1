// Package clock correlates the media clock of a recorded capture stream with
// the host clock of an independently written input-event log.
//
// The correlation is a single linear offset computed once from a
// RecordingAnchor. No drift correction is applied over long recordings.
package clock

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLogTicksPerSecond is used when the metadata omits the log clock frequency.
const DefaultLogTicksPerSecond = 1_000_000

// ErrMetadataNotFound is returned when the session metadata file does not exist.
var ErrMetadataNotFound = errors.New("clock: session metadata not found")

// Anchor pairs the media clock and the log clock at the instant recording started.
type Anchor struct {
	MediaOriginUs     int64 `yaml:"media_clock_origin_us" json:"media_clock_origin_us"`
	LogOriginTicks    int64 `yaml:"log_clock_origin_ticks" json:"log_clock_origin_ticks"`
	LogTicksPerSecond int64 `yaml:"log_clock_frequency_hz" json:"log_clock_frequency_hz"`
}

// Correlated reports whether both origins were captured.
func (a Anchor) Correlated() bool {
	return a.MediaOriginUs != 0 && a.LogOriginTicks != 0
}

// LoadAnchor reads the session metadata file (YAML or JSON).
func LoadAnchor(path string) (Anchor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Anchor{}, fmt.Errorf("%w: %s", ErrMetadataNotFound, path)
		}
		return Anchor{}, fmt.Errorf("failed to read session metadata: %w", err)
	}

	var a Anchor
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Anchor{}, fmt.Errorf("failed to parse session metadata: %w", err)
	}
	if a.LogTicksPerSecond < 0 {
		return Anchor{}, fmt.Errorf("log_clock_frequency_hz must be > 0, got %d", a.LogTicksPerSecond)
	}
	if a.LogTicksPerSecond == 0 {
		a.LogTicksPerSecond = DefaultLogTicksPerSecond
	}
	return a, nil
}
