// Package brokertest provides a recording broker for tests.
package brokertest

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// Kind identifies a recorded call.
type Kind int

const (
	KindCapture Kind = iota
	KindSample
	KindEvent
)

// Entry is one recorded broker call.
type Entry struct {
	Kind    Kind
	At      time.Time
	Capture broker.Capture
	Sample  media.SensorSample
	Event   eventlog.InputEvent
}

// Recorder records every call in arrival order.
type Recorder struct {
	mu         sync.Mutex
	cond       *sync.Cond
	entries    []Entry
	captureErr error
	onCapture  func(broker.Capture)
}

var _ broker.Broker = (*Recorder)(nil)

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// FailCaptures makes SetCapture record the call and then return err.
func (r *Recorder) FailCaptures(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captureErr = err
}

// OnCapture installs a hook called synchronously after each capture is recorded.
func (r *Recorder) OnCapture(fn func(broker.Capture)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCapture = fn
}

func (r *Recorder) SetCapture(c broker.Capture) error {
	c.Image = append([]byte(nil), c.Image...)

	r.mu.Lock()
	r.entries = append(r.entries, Entry{Kind: KindCapture, At: time.Now(), Capture: c})
	err := r.captureErr
	hook := r.onCapture
	r.cond.Broadcast()
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return err
}

func (r *Recorder) SetSensorSample(s media.SensorSample) error {
	r.record(Entry{Kind: KindSample, At: time.Now(), Sample: s})
	return nil
}

func (r *Recorder) SetInputEvent(e eventlog.InputEvent) error {
	r.record(Entry{Kind: KindEvent, At: time.Now(), Event: e})
	return nil
}

func (r *Recorder) record(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Entries returns a copy of all recorded calls.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Captures returns the recorded capture entries.
func (r *Recorder) Captures() []Entry {
	return r.filter(KindCapture)
}

// Events returns the recorded input events in order.
func (r *Recorder) Events() []eventlog.InputEvent {
	var out []eventlog.InputEvent
	for _, e := range r.filter(KindEvent) {
		out = append(out, e.Event)
	}
	return out
}

func (r *Recorder) filter(k Kind) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// WaitCaptures blocks until at least n captures were recorded or timeout.
func (r *Recorder) WaitCaptures(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		count := 0
		for _, e := range r.entries {
			if e.Kind == KindCapture {
				count++
			}
		}
		if count >= n {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		r.cond.Wait()
	}
}
