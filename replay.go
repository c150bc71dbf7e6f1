package replay

import (
	"context"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/playback"
)

// Re-exported from internal packages so callers can implement a Broker and
// read state without importing internal paths.
type (
	Descriptor   = engine.Descriptor
	Options      = engine.Options
	Stats        = engine.Stats
	State        = playback.State
	Broker       = broker.Broker
	Capture      = broker.Capture
	InputEvent   = eventlog.InputEvent
	SensorSample = media.SensorSample
	Calibration  = media.Calibration
)

// Errors returned by Player.
var (
	ErrInvalidDescriptor = engine.ErrInvalidDescriptor
	ErrDisposed          = engine.ErrDisposed
	ErrShutdownTimeout   = engine.ErrShutdownTimeout
)

// Player controls playback of one recorded session at a time.
//
// Lifecycle: New() → Configure() → Play()/Pause()/Rewind()/Seek() → Dispose()
// All methods are safe for concurrent use.
type Player interface {
	// Configure replaces the current session. The new session starts paused
	// at position 0.
	Configure(ctx context.Context, desc Descriptor) error

	// Play, Pause, Rewind and Seek queue a command and return immediately.
	// They report false when no session is configured.
	Play() bool
	Pause() bool
	Rewind() bool
	Seek(positionUs int64) bool

	// State is the latest playback snapshot.
	State() State

	// Stats returns operational counters for the current session.
	Stats() Stats

	// Calibration returns the capture device calibration of the recording.
	Calibration() (Calibration, bool)

	// Dispose stops playback and releases every capture, waiting at most
	// Options.ShutdownGrace or until ctx ends. Idempotent.
	Dispose(ctx context.Context) error
}

var _ Player = (*engine.Controller)(nil)

// New creates an idle Player publishing to b.
func New(b Broker, opts Options) Player {
	return engine.New(b, opts)
}
