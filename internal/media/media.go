// Package media defines the recorded capture source the replay engine pulls
// frames from.
//
// Captures are expensive resources owned by the source. Whoever holds a
// Capture last must call Release exactly once.
package media

import (
	"context"
	"errors"
)

var (
	// ErrEndOfStream is returned by Source.Next when no frames remain.
	ErrEndOfStream = errors.New("media: end of stream")
	// ErrClosed is returned by a Source after Close.
	ErrClosed = errors.New("media: source closed")
)

// Capture is a single recorded frame.
type Capture interface {
	// Image returns the frame payload, valid until Release.
	Image() ([]byte, bool)
	// DeviceTimestamp is the media clock timestamp in microseconds.
	DeviceTimestamp() (int64, bool)
	Release()
}

// Source is a seekable reader of recorded captures.
//
// Next and Seek are called from one goroutine at a time.
type Source interface {
	Next(ctx context.Context) (Capture, error)
	// Seek positions the source on the first frame at or after positionUs.
	Seek(ctx context.Context, positionUs int64) error
	Calibration() Calibration
	Close() error
}

// Opener opens a Source for a media path.
type Opener func(ctx context.Context, path string) (Source, error)

// Calibration describes the capture device of a recording.
type Calibration struct {
	Device     string            `msgpack:"device" json:"device"`
	Width      int               `msgpack:"width" json:"width"`
	Height     int               `msgpack:"height" json:"height"`
	Format     string            `msgpack:"format" json:"format"`
	FPS        float64           `msgpack:"fps" json:"fps"`
	Intrinsics []float64         `msgpack:"intrinsics,omitempty" json:"intrinsics,omitempty"`
	Properties map[string]string `msgpack:"properties,omitempty" json:"properties,omitempty"`
}

// SensorSample is a reading derived from (or recorded with) a capture, for
// example an IMU or depth statistic.
type SensorSample struct {
	TimestampUs int64     `msgpack:"ts_us" json:"ts_us"`
	Kind        string    `msgpack:"kind" json:"kind"`
	Values      []float64 `msgpack:"values" json:"values"`
}
