package engine

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/pacing"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/playback"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/queue"
)

// Stats is a point-in-time view of the current session.
type Stats struct {
	SessionID  string
	Configured bool
	State      playback.State
	Uptime     time.Duration

	FramesRead      uint64
	FramesEmitted   uint64
	FramesSkipped   uint64 // before a seek target
	FramesRejected  uint64 // queue closed during shutdown
	ReadErrors      uint64
	PublishErrors   uint64
	EventsPublished uint64
	CommandsApplied uint64
	CommandsDropped uint64
	LoopPanics      uint64

	// Outstanding is the number of captures not yet released.
	Outstanding int64
	Captures    frame.LedgerStats
	Exhausted   bool

	EventLog eventlog.Stats
	Queue    queue.Stats
	Pacing   pacing.FidelityStats
}

// Stats returns statistics for the current session. After Dispose it reports
// the final counters of the last session with Configured false; before any
// Configure it is the zero Stats.
func (c *Controller) Stats() Stats {
	if s := c.current.Load(); s != nil {
		st := s.stats()
		st.Configured = true
		return st
	}
	if s := c.retired.Load(); s != nil {
		return s.stats()
	}
	return Stats{}
}

func (s *session) stats() Stats {
	return Stats{
		SessionID:       s.id,
		State:           s.state.Load(),
		Uptime:          time.Since(s.startedAt),
		FramesRead:      s.framesRead.Load(),
		FramesEmitted:   s.framesEmitted.Load(),
		FramesSkipped:   s.framesSkipped.Load(),
		FramesRejected:  s.framesRejected.Load(),
		ReadErrors:      s.readErrors.Load(),
		PublishErrors:   s.publishErrors.Load(),
		EventsPublished: s.eventsPublished.Load(),
		CommandsApplied: s.commandsApplied.Load(),
		CommandsDropped: s.mailbox.Dropped(),
		LoopPanics:      s.loopPanics.Load(),
		Outstanding:     s.ledger.Outstanding(),
		Captures:        s.ledger.Stats(),
		Exhausted:       s.exhausted.Load(),
		EventLog:        s.cursor.Stats(),
		Queue:           s.queue.Stats(),
		Pacing:          s.fidelity.Stats(),
	}
}
