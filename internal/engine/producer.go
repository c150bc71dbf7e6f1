package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// runProducer fills the queue while playback is reading. The only exit is
// cancellation.
func (s *session) runProducer(ctx context.Context) {
	defer close(s.producerDone)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.opts.ReadRetryMin
	retry.MaxInterval = s.opts.ReadRetryMax
	retry.Reset()

	s.log.Debug("producer: started")
	for ctx.Err() == nil {
		s.produceStep(ctx, retry)
	}
	s.log.Debug("producer: stopped")
}

func (s *session) produceStep(ctx context.Context, retry *backoff.ExponentialBackOff) {
	defer func() {
		if r := recover(); r != nil {
			s.loopPanics.Add(1)
			s.log.Error("producer: iteration panicked", "panic", fmt.Sprint(r))
		}
	}()

	if !s.state.Load().Reading || s.exhausted.Load() {
		sleep(ctx, s.opts.IdlePoll, s.producerWake)
		return
	}

	// Bounded so a state change is noticed within one poll interval.
	if !s.queue.WaitCapacity(ctx, s.opts.IdlePoll) {
		return
	}

	if err := s.produce(ctx); err != nil {
		s.readErrors.Add(1)
		wait := retry.NextBackOff()
		s.log.Warn("producer: read failed, retrying", "error", err, "retry_in", wait)
		sleep(ctx, wait, nil)
		return
	}
	retry.Reset()
}

// produce reads one capture and enqueues it with its correlated events.
// Every capture read here is either enqueued or released before returning.
func (s *session) produce(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	// Re-checked under the lock: a pause or seek may have been applied while
	// this goroutine waited.
	if !s.state.Load().Reading || s.exhausted.Load() {
		return nil
	}

	c, err := s.source.Next(ctx)
	switch {
	case errors.Is(err, media.ErrEndOfStream):
		s.exhausted.Store(true)
		s.queue.Interrupt()
		s.log.Info("producer: end of stream", "frames_read", s.framesRead.Load())
		return nil
	case err != nil:
		if c != nil {
			c.Release()
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	tok := s.ledger.Acquire(c)
	s.framesRead.Add(1)

	ts, hasTs := c.DeviceTimestamp()
	if s.hasMin && hasTs && ts < s.minTs {
		tok.Release()
		s.framesSkipped.Add(1)
		return nil
	}

	u := &frame.Unit{Token: tok, TimestampUs: ts, HasTimestamp: hasTs}
	if hasTs {
		if s.hasPrev && ts > s.prevTs {
			u.Delta = time.Duration(ts-s.prevTs) * time.Microsecond
		}
		s.prevTs, s.hasPrev = ts, true
		u.Events = s.cursor.EventsUpTo(ts)
	}
	if sample, ok := s.opts.Deriver.Derive(c); ok {
		u.Sample = &sample
	}

	if !s.queue.TryPush(u) {
		u.Release()
		s.framesRejected.Add(1)
		s.log.Debug("producer: enqueue rejected, capture released", "timestamp_us", ts)
	}
	return nil
}
