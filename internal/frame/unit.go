package frame

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// Unit is one produced item: a capture, its derived sensor sample and the
// input events that happened up to its timestamp.
type Unit struct {
	Token  *Token
	Sample *media.SensorSample
	Events []eventlog.InputEvent
	// Delta is the recorded interval since the previous frame.
	Delta        time.Duration
	TimestampUs  int64
	HasTimestamp bool
}

// Release releases the unit's capture, if any.
func (u *Unit) Release() {
	if u == nil {
		return
	}
	u.Token.Release()
}
