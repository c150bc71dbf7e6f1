// Package frame implements single-owner capture tokens and the units that
// carry them from producer to consumer.
package frame

import (
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// Ledger mints tokens with monotonically increasing ids and counts the
// captures that have not been released yet.
type Ledger struct {
	nextID      atomic.Uint64
	outstanding atomic.Int64
	acquired    atomic.Uint64
	released    atomic.Uint64
}

// Acquire takes ownership of c. A nil capture yields a nil token.
func (l *Ledger) Acquire(c media.Capture) *Token {
	if c == nil {
		return nil
	}
	l.acquired.Add(1)
	l.outstanding.Add(1)
	return &Token{id: l.nextID.Add(1), capture: c, ledger: l}
}

// Outstanding is the number of tokens not yet released.
func (l *Ledger) Outstanding() int64 { return l.outstanding.Load() }

// LedgerStats is a snapshot of ledger counters.
type LedgerStats struct {
	Acquired    uint64
	Released    uint64
	Outstanding int64
}

func (l *Ledger) Stats() LedgerStats {
	return LedgerStats{
		Acquired:    l.acquired.Load(),
		Released:    l.released.Load(),
		Outstanding: l.outstanding.Load(),
	}
}

// Token owns one capture. Exactly one holder calls Release.
type Token struct {
	id       uint64
	capture  media.Capture
	ledger   *Ledger
	released atomic.Bool
}

// ID is unique per ledger and increases with acquisition order.
func (t *Token) ID() uint64 {
	if t == nil {
		return 0
	}
	return t.id
}

// Capture returns the owned capture. It must not be used after Release.
func (t *Token) Capture() media.Capture {
	if t == nil {
		return nil
	}
	return t.capture
}

// Release releases the capture. Only the first call has an effect; it
// returns false for a nil token or a repeated call.
func (t *Token) Release() bool {
	if t == nil {
		return false
	}
	if t.released.Swap(true) {
		slog.Warn("frame: token released twice", "token_id", t.id)
		return false
	}
	t.capture.Release()
	t.ledger.released.Add(1)
	t.ledger.outstanding.Add(-1)
	return true
}
