package playback

import (
	"sync/atomic"
	"time"
)

// State is the observable playback state.
type State struct {
	Reading      bool
	PositionUs   int64
	LastEmission time.Time
}

// StateBox publishes State snapshots. One goroutine writes, any number read.
type StateBox struct {
	p atomic.Pointer[State]
}

// Load returns the latest snapshot (the zero State before the first Store).
func (b *StateBox) Load() State {
	if s := b.p.Load(); s != nil {
		return *s
	}
	return State{}
}

// Store publishes a new snapshot.
func (b *StateBox) Store(s State) {
	b.p.Store(&s)
}
