package mqttbroker

import (
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
)

type captureMessage struct {
	ID           uint64 `msgpack:"id"`
	SessionID    string `msgpack:"session_id"`
	TraceID      string `msgpack:"trace_id"`
	TimestampUs  int64  `msgpack:"ts_us"`
	HasTimestamp bool   `msgpack:"has_ts"`
	ImageBytes   int    `msgpack:"image_bytes"`
	Image        []byte `msgpack:"image,omitempty"`
}

type sampleMessage struct {
	TimestampUs int64     `msgpack:"ts_us"`
	Kind        string    `msgpack:"kind"`
	Values      []float64 `msgpack:"values"`
}

// eventMessage is the wire form of an input event.
type eventMessage struct {
	Kind    string `msgpack:"kind"` // "key" or "mouse"
	Ticks   int64  `msgpack:"ticks"`
	MediaUs int64  `msgpack:"media_us"`

	Key  uint16 `msgpack:"key,omitempty"`
	Down bool   `msgpack:"down,omitempty"`

	X      int32  `msgpack:"x,omitempty"`
	Y      int32  `msgpack:"y,omitempty"`
	Button string `msgpack:"button,omitempty"`
	Action string `msgpack:"action,omitempty"`
	Wheel  int32  `msgpack:"wheel,omitempty"`
}

func encodeEvent(e eventlog.InputEvent) (eventMessage, error) {
	msg := eventMessage{Ticks: e.Timestamp, MediaUs: e.MediaUs}
	switch p := e.Payload.(type) {
	case eventlog.Keyboard:
		msg.Kind = "key"
		msg.Key = p.Key
		msg.Down = p.Down
	case eventlog.Mouse:
		msg.Kind = "mouse"
		msg.X, msg.Y = p.X, p.Y
		msg.Button = p.Button.String()
		msg.Action = p.Action.String()
		msg.Wheel = p.WheelDelta
	default:
		return eventMessage{}, fmt.Errorf("mqttbroker: unsupported input payload %T", e.Payload)
	}
	return msg, nil
}
