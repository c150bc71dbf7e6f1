package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/clock"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/pacing"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/playback"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/queue"
)

// session owns everything created by one Configure.
type session struct {
	id     string
	desc   Descriptor
	anchor clock.Anchor
	opts   Options
	log    *slog.Logger
	broker broker.Broker

	// feedMu guards the media source, the event cursor and the fields below.
	// The producer holds it while composing a unit; the consumer holds it
	// while repositioning.
	feedMu  sync.Mutex
	source  media.Source
	cursor  *eventlog.Cursor
	prevTs  int64
	hasPrev bool
	minTs   int64
	hasMin  bool

	exhausted atomic.Bool

	queue    *queue.Queue[*frame.Unit]
	ledger   frame.Ledger
	mailbox  *playback.Mailbox
	state    playback.StateBox
	fidelity pacing.Fidelity

	// producerWake is signalled when the producer should stop idling.
	producerWake chan struct{}

	cancelProducer context.CancelFunc
	cancelConsumer context.CancelFunc
	producerDone   chan struct{}
	consumerDone   chan struct{}
	startedAt      time.Time

	framesRead      atomic.Uint64
	framesEmitted   atomic.Uint64
	framesSkipped   atomic.Uint64
	framesRejected  atomic.Uint64
	readErrors      atomic.Uint64
	publishErrors   atomic.Uint64
	eventsPublished atomic.Uint64
	commandsApplied atomic.Uint64
	loopPanics      atomic.Uint64

	teardownOnce sync.Once
	teardownErr  error
}

func newSession(desc Descriptor, anchor clock.Anchor, src media.Source, cur *eventlog.Cursor, b broker.Broker, opts Options) *session {
	id := uuid.NewString()
	s := &session{
		id:           id,
		desc:         desc,
		anchor:       anchor,
		opts:         opts,
		log:          slog.Default().With("session_id", id),
		broker:       b,
		source:       src,
		cursor:       cur,
		mailbox:      playback.NewMailbox(opts.MailboxCapacity),
		producerWake: make(chan struct{}, 1),
		producerDone: make(chan struct{}),
		consumerDone: make(chan struct{}),
	}
	s.queue = queue.New(opts.QueueCapacity, (*frame.Unit).Release)
	s.state.Store(playback.State{})
	return s
}

// start launches both loops with independent cancellation.
func (s *session) start(parent context.Context) {
	base := context.WithoutCancel(parent)

	pctx, pcancel := context.WithCancel(base)
	cctx, ccancel := context.WithCancel(base)
	s.cancelProducer = pcancel
	s.cancelConsumer = ccancel
	s.startedAt = time.Now()

	go s.runProducer(pctx)
	go newConsumer(s).run(cctx)

	s.log.Info("replay session started",
		"media", s.desc.MediaPath,
		"event_log", s.desc.EventLogPath,
		"correlated", s.anchor.Correlated(),
		"queue_capacity", s.opts.QueueCapacity,
	)
}

// enqueue queues a command and wakes whichever loop may be waiting.
func (s *session) enqueue(cmd playback.Command) bool {
	ok := s.mailbox.Push(cmd)
	s.queue.Interrupt()
	return ok
}

func (s *session) wakeProducer() {
	select {
	case s.producerWake <- struct{}{}:
	default:
	}
}

// teardown stops both loops, waiting at most grace (or until ctx ends), then
// force-releases every buffered capture. Safe to call more than once.
func (s *session) teardown(ctx context.Context, grace time.Duration) error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.doTeardown(ctx, grace)
	})
	return s.teardownErr
}

func (s *session) doTeardown(ctx context.Context, grace time.Duration) error {
	s.log.Info("replay session stopping", "grace", grace)

	// Closing first makes any late producer push fail, so the producer
	// releases the unit itself.
	s.queue.Close()
	s.cancelProducer()
	s.cancelConsumer()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var err error
	for _, done := range []chan struct{}{s.producerDone, s.consumerDone} {
		select {
		case <-done:
		case <-timer.C:
			err = ErrShutdownTimeout
		case <-ctx.Done():
			err = fmt.Errorf("%w: %v", ErrShutdownTimeout, ctx.Err())
		}
		if err != nil {
			break
		}
	}

	if n := s.queue.Drain(); n > 0 {
		s.log.Debug("released buffered units", "count", n)
	}

	closeFeed := func() {
		s.feedMu.Lock()
		defer s.feedMu.Unlock()
		if err := s.source.Close(); err != nil {
			s.log.Warn("failed to close media source", "error", err)
		}
		if err := s.cursor.Close(); err != nil {
			s.log.Warn("failed to close event log", "error", err)
		}
	}

	if err != nil {
		s.log.Warn("replay loops did not stop in time, abandoning them",
			"error", err,
			"grace", grace,
			"outstanding", s.ledger.Outstanding(),
		)
		// The stuck loop still owns the feed; close it once the loop lets go.
		go func() {
			<-s.producerDone
			<-s.consumerDone
			s.queue.Drain()
			closeFeed()
		}()
		return err
	}

	closeFeed()
	s.log.Info("replay session stopped",
		"frames_emitted", s.framesEmitted.Load(),
		"outstanding", s.ledger.Outstanding(),
		"duration", time.Since(s.startedAt),
	)
	return nil
}

// sleep waits for d, returning early (false) when ctx ends or wake fires.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return false
	case <-t.C:
		return true
	}
}
