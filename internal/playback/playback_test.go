package playback

import (
	"sync"
	"testing"
	"time"
)

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox(0)
	cmds := []Command{{Kind: Play}, {Kind: Seek, PositionUs: 66_000}, {Kind: Pause}, {Kind: Rewind}}
	for _, c := range cmds {
		if !m.Push(c) {
			t.Fatalf("Push(%v) rejected", c)
		}
	}

	select {
	case <-m.Notify():
	default:
		t.Fatal("Notify() did not fire after Push")
	}

	for _, want := range cmds {
		got, ok := m.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %v, %v, want %v", got, ok, want)
		}
	}
	if _, ok := m.Pop(); ok {
		t.Fatal("Pop() on empty mailbox succeeded")
	}
}

func TestMailboxDropsBeyondCapacity(t *testing.T) {
	m := NewMailbox(2)
	m.Push(Command{Kind: Play})
	m.Push(Command{Kind: Pause})
	if m.Push(Command{Kind: Play}) {
		t.Fatal("Push() accepted beyond capacity")
	}
	if m.Dropped() != 1 || m.Pending() != 2 {
		t.Errorf("Dropped()=%d Pending()=%d, want 1, 2", m.Dropped(), m.Pending())
	}
}

func TestStateBoxSnapshots(t *testing.T) {
	var b StateBox
	if s := b.Load(); s.Reading || s.PositionUs != 0 {
		t.Fatalf("zero StateBox Load() = %+v", s)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := b.Load()
			// Writer keeps Reading == (PositionUs odd)
			if s.Reading != (s.PositionUs%2 == 1) {
				t.Errorf("torn snapshot: %+v", s)
				return
			}
		}
	}()

	for i := int64(0); i < 10_000; i++ {
		b.Store(State{Reading: i%2 == 1, PositionUs: i, LastEmission: time.Now()})
	}
	close(stop)
	wg.Wait()
}

func TestCommandString(t *testing.T) {
	tests := map[Command]string{
		{Kind: Play}:                   "play",
		{Kind: Pause}:                  "pause",
		{Kind: Rewind}:                 "rewind",
		{Kind: Seek, PositionUs: 1500}: "seek(1500us)",
		{Kind: Kind(9)}:                "kind(9)",
	}
	for cmd, want := range tests {
		if got := cmd.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", cmd, got, want)
		}
	}
}
