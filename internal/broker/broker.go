// Package broker defines the downstream sink that receives replayed frames,
// sensor samples and input events, plus a fan-out to several sinks.
package broker

import (
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// Capture is the view of a replayed frame handed to a Broker. Image is only
// valid for the duration of the SetCapture call.
type Capture struct {
	ID           uint64
	SessionID    string
	TraceID      string
	TimestampUs  int64
	HasTimestamp bool
	Image        []byte
}

// Broker receives replayed data. Calls are fire-and-forget and must not
// block for long; the engine applies no backpressure here.
type Broker interface {
	SetCapture(c Capture) error
	SetSensorSample(s media.SensorSample) error
	SetInputEvent(e eventlog.InputEvent) error
}
