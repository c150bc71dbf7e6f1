package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/pacing"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/playback"
)

// consumer is the state owned by the consumer goroutine.
type consumer struct {
	s       *session
	state   playback.State
	pacer   *pacing.Pacer
	pending *frame.Unit
	clamped bool // the wait for pending hit the pacing cap
}

func newConsumer(s *session) *consumer {
	return &consumer{
		s:     s,
		state: s.state.Load(),
		pacer: pacing.NewPacer(s.opts.MaxPacingWait),
	}
}

// run is the consumer loop. On exit every buffered unit has been released.
func (c *consumer) run(ctx context.Context) {
	defer close(c.s.consumerDone)
	defer func() {
		c.releasePending()
		if n := c.s.queue.Drain(); n > 0 {
			c.s.log.Debug("consumer: released buffered units on exit", "count", n)
		}
	}()

	c.s.log.Debug("consumer: started")
	for ctx.Err() == nil {
		c.step(ctx)
	}
	c.s.log.Debug("consumer: stopped")
}

func (c *consumer) step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.s.loopPanics.Add(1)
			c.s.log.Error("consumer: iteration panicked", "panic", fmt.Sprint(r))
		}
	}()

	if cmd, ok := c.s.mailbox.Pop(); ok {
		c.apply(ctx, cmd)
	}

	if !c.state.Reading {
		sleep(ctx, c.s.opts.IdlePoll, c.s.mailbox.Notify())
		return
	}

	if c.pending == nil {
		u, ok := c.s.queue.TryPop()
		if !ok {
			// exhausted is read before Len: the producer sets it after its last push.
			if c.s.exhausted.Load() && c.s.queue.Len() == 0 {
				c.s.log.Info("consumer: end of stream, playback stopped", "position_us", c.state.PositionUs)
				c.setReading(false)
				return
			}
			c.s.queue.WaitItem(ctx, c.s.opts.IdlePoll)
			return
		}
		c.pending = u
		c.clamped = false
	}

	wait, clamped := c.pacer.Remaining(c.pending.Delta, time.Now())
	if clamped && !c.clamped {
		c.clamped = true
		c.s.fidelity.ObserveClamp()
		c.s.log.Warn("consumer: recorded gap exceeds pacing cap, clamping",
			"delta", c.pending.Delta,
			"max_wait", c.s.opts.MaxPacingWait,
		)
	}
	// A new command interrupts the wait; pending is kept for the next step.
	if wait > 0 && !sleep(ctx, wait, c.s.mailbox.Notify()) {
		return
	}

	u := c.pending
	c.pending = nil
	c.emit(u)
}

// emit publishes u and releases its capture exactly once.
func (c *consumer) emit(u *frame.Unit) {
	defer u.Release()

	now := time.Now()
	switch {
	case c.pacer.Armed():
		c.s.fidelity.ObserveCatchUp()
	case u.Delta > 0 && !c.clamped:
		c.s.fidelity.Observe(u.Delta, now.Sub(c.pacer.Last()))
	}
	c.pacer.Mark(now)

	if u.Token != nil {
		capture := broker.Capture{
			ID:           u.Token.ID(),
			SessionID:    c.s.id,
			TraceID:      uuid.NewString(),
			TimestampUs:  u.TimestampUs,
			HasTimestamp: u.HasTimestamp,
		}
		if img, ok := u.Token.Capture().Image(); ok {
			capture.Image = img
		}
		if err := c.s.broker.SetCapture(capture); err != nil {
			c.publishFailed("capture", err)
		}
	}
	if u.Sample != nil {
		if err := c.s.broker.SetSensorSample(*u.Sample); err != nil {
			c.publishFailed("sensor_sample", err)
		}
	}
	for _, ev := range u.Events {
		if err := c.s.broker.SetInputEvent(ev); err != nil {
			c.publishFailed("input_event", err)
		}
	}
	c.s.eventsPublished.Add(uint64(len(u.Events)))
	c.s.framesEmitted.Add(1)

	if u.HasTimestamp {
		c.state.PositionUs = u.TimestampUs
	}
	c.state.LastEmission = now
	c.s.state.Store(c.state)
}

func (c *consumer) publishFailed(kind string, err error) {
	c.s.publishErrors.Add(1)
	c.s.log.Warn("consumer: publish failed", "kind", kind, "error", err)
}

// apply runs one command. Commands are idempotent against the current state.
func (c *consumer) apply(ctx context.Context, cmd playback.Command) {
	c.s.commandsApplied.Add(1)
	c.s.log.Debug("consumer: applying command", "command", cmd.String())

	switch cmd.Kind {
	case playback.Play:
		if c.state.Reading {
			return
		}
		c.pacer.Arm()
		c.setReading(true)

	case playback.Pause:
		if !c.state.Reading {
			return
		}
		c.setReading(false)

	case playback.Rewind:
		c.reposition(ctx, 0, false)
		c.state.PositionUs = 0
		c.s.state.Store(c.state)

	case playback.Seek:
		c.reposition(ctx, cmd.PositionUs, true)
		c.state.PositionUs = cmd.PositionUs
		c.s.state.Store(c.state)

	default:
		c.s.log.Warn("consumer: unknown command ignored", "command", cmd.String())
	}
}

func (c *consumer) setReading(reading bool) {
	c.state.Reading = reading
	c.s.state.Store(c.state)
	if reading {
		c.s.wakeProducer()
	}
}

// reposition releases every buffered unit and moves both cursors to
// positionUs. With seek set, frames before positionUs are skipped and events
// before it are dropped; otherwise both cursors restart from the beginning.
func (c *consumer) reposition(ctx context.Context, positionUs int64, seek bool) {
	s := c.s
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	c.releasePending()
	drained := s.queue.Drain()

	if err := s.source.Seek(ctx, positionUs); err != nil {
		s.log.Error("consumer: media seek failed", "position_us", positionUs, "error", err)
	}

	var err error
	if seek {
		err = s.cursor.SeekTo(positionUs)
	} else {
		err = s.cursor.Rewind()
	}
	if err != nil {
		s.log.Error("consumer: event log reposition failed", "position_us", positionUs, "error", err)
	}

	s.prevTs, s.hasPrev = 0, false
	s.minTs, s.hasMin = positionUs, seek
	s.exhausted.Store(false)

	c.pacer.Arm()
	s.wakeProducer()

	s.log.Info("consumer: repositioned",
		"position_us", positionUs,
		"seek", seek,
		"released", drained,
		"outstanding", s.ledger.Outstanding(),
	)
}

func (c *consumer) releasePending() {
	if c.pending != nil {
		c.pending.Release()
		c.pending = nil
	}
}
