package broker

import (
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// LogSink writes every call to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

var _ Broker = LogSink{}

func (l LogSink) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LogSink) SetCapture(c Capture) error {
	l.logger().Debug("replay: capture",
		"frame_id", c.ID,
		"session_id", c.SessionID,
		"trace_id", c.TraceID,
		"timestamp_us", c.TimestampUs,
		"size_bytes", len(c.Image),
	)
	return nil
}

func (l LogSink) SetSensorSample(s media.SensorSample) error {
	l.logger().Debug("replay: sensor sample", "kind", s.Kind, "timestamp_us", s.TimestampUs, "values", len(s.Values))
	return nil
}

func (l LogSink) SetInputEvent(e eventlog.InputEvent) error {
	line, err := eventlog.FormatLine(e)
	if err != nil {
		return err
	}
	l.logger().Debug("replay: input event", "event", line, "media_us", e.MediaUs)
	return nil
}
