package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/clock"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/playback"
)

// Controller is the public surface of the engine. It owns at most one
// session at a time.
//
// Configure and Dispose are serialized. Play, Pause, Rewind and Seek only
// queue a command and never block on the loops.
type Controller struct {
	broker broker.Broker
	opts   Options

	lifecycleMu sync.Mutex
	disposed    bool
	current     atomic.Pointer[session]
	retired     atomic.Pointer[session] // last session, kept for Stats after Dispose
}

// New creates an idle controller publishing to b.
func New(b broker.Broker, opts Options) *Controller {
	return &Controller{
		broker: b,
		opts:   opts.withDefaults(),
	}
}

// Configure tears down the current session, if any, and starts a new one in
// the paused state at position 0.
func (c *Controller) Configure(ctx context.Context, desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if old := c.current.Swap(nil); old != nil {
		if err := old.teardown(ctx, c.opts.ShutdownGrace); err != nil {
			slog.Warn("previous replay session did not stop cleanly", "session_id", old.id, "error", err)
		}
	}

	anchor, err := clock.LoadAnchor(desc.MetadataPath)
	if err != nil {
		return fmt.Errorf("failed to load session metadata: %w", err)
	}
	if !anchor.Correlated() {
		slog.Warn("session metadata has no clock anchor, event log timestamps are used as media time",
			"metadata", desc.MetadataPath,
		)
	}

	cursor, err := eventlog.Open(c.opts.EventSource(desc.EventLogPath), clock.NewOffset(anchor))
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}

	src, err := c.opts.MediaOpener(ctx, desc.MediaPath)
	if err != nil {
		cursor.Close()
		return fmt.Errorf("failed to open media: %w", err)
	}

	s := newSession(desc, anchor, src, cursor, c.broker, c.opts)
	s.start(ctx)
	c.current.Store(s)
	return nil
}

// Play starts or resumes emission. It reports whether the command was queued.
func (c *Controller) Play() bool { return c.send(playback.Command{Kind: playback.Play}) }

// Pause stops emission. Frames already buffered stay buffered.
func (c *Controller) Pause() bool { return c.send(playback.Command{Kind: playback.Pause}) }

// Rewind moves playback to the beginning of the recording.
func (c *Controller) Rewind() bool { return c.send(playback.Command{Kind: playback.Rewind}) }

// Seek moves playback to the first frame at or after positionUs.
func (c *Controller) Seek(positionUs int64) bool {
	if positionUs < 0 {
		positionUs = 0
	}
	return c.send(playback.Command{Kind: playback.Seek, PositionUs: positionUs})
}

func (c *Controller) send(cmd playback.Command) bool {
	s := c.current.Load()
	if s == nil {
		slog.Warn("playback command ignored, no session configured", "command", cmd.String())
		return false
	}
	return s.enqueue(cmd)
}

// Dispose stops the current session and makes the controller unusable.
// It is idempotent and safe to call concurrently.
func (c *Controller) Dispose(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.disposed {
		return nil
	}
	c.disposed = true

	s := c.current.Swap(nil)
	if s == nil {
		return nil
	}
	c.retired.Store(s)
	return s.teardown(ctx, c.opts.ShutdownGrace)
}

// State returns the latest playback state snapshot. Without a session it is
// the zero State.
func (c *Controller) State() playback.State {
	if s := c.current.Load(); s != nil {
		return s.state.Load()
	}
	return playback.State{}
}

// SessionID returns the id of the current session, or "".
func (c *Controller) SessionID() string {
	if s := c.current.Load(); s != nil {
		return s.id
	}
	return ""
}

// Calibration returns the capture device calibration of the current
// recording.
func (c *Controller) Calibration() (media.Calibration, bool) {
	s := c.current.Load()
	if s == nil {
		return media.Calibration{}, false
	}
	return s.source.Calibration(), true
}
