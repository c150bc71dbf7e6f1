// Package playback holds the playback command and state types shared by the
// engine and its callers.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
)

// Kind is the kind of a playback command.
type Kind int

const (
	Play Kind = iota
	Pause
	Rewind
	Seek
)

func (k Kind) String() string {
	switch k {
	case Play:
		return "play"
	case Pause:
		return "pause"
	case Rewind:
		return "rewind"
	case Seek:
		return "seek"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is a queued playback request. PositionUs is used by Seek only.
type Command struct {
	Kind       Kind
	PositionUs int64
}

func (c Command) String() string {
	if c.Kind == Seek {
		return fmt.Sprintf("seek(%dus)", c.PositionUs)
	}
	return c.Kind.String()
}

// DefaultMailboxCapacity bounds the number of pending commands.
const DefaultMailboxCapacity = 64

// Mailbox is a FIFO of pending commands. Push never blocks; commands beyond
// capacity are dropped with a warning.
type Mailbox struct {
	mu       sync.Mutex
	items    []Command
	capacity int
	dropped  uint64
	notify   chan struct{}
}

// NewMailbox creates a mailbox. capacity <= 0 selects DefaultMailboxCapacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{capacity: capacity, notify: make(chan struct{}, 1)}
}

// Push enqueues cmd and reports whether it was accepted.
func (m *Mailbox) Push(cmd Command) bool {
	m.mu.Lock()
	if len(m.items) >= m.capacity {
		m.dropped++
		m.mu.Unlock()
		slog.Warn("playback: command mailbox full, dropping command", "command", cmd.String())
		return false
	}
	m.items = append(m.items, cmd)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest pending command.
func (m *Mailbox) Pop() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return Command{}, false
	}
	cmd := m.items[0]
	m.items = m.items[1:]
	return cmd, true
}

// Pending returns the number of queued commands.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Dropped returns how many commands were rejected.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Notify receives a value after a Push. It may fire spuriously; always
// check Pending or Pop.
func (m *Mailbox) Notify() <-chan struct{} {
	return m.notify
}
