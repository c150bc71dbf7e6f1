package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

type sink struct {
	name string
	b    Broker
}

// Fanout delivers every call to all registered sinks.
type Fanout struct {
	mu        sync.RWMutex
	sinks     []sink
	delivered map[string]uint64
	failed    map[string]uint64
	calls     uint64
}

// FanoutStats contains per-sink delivery counters.
type FanoutStats struct {
	Sinks     int
	Calls     uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

var _ Broker = (*Fanout)(nil)

// NewFanout creates an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{
		delivered: make(map[string]uint64),
		failed:    make(map[string]uint64),
	}
}

// Register adds a named sink. Registering a name again replaces the sink
// and moves it to the end of the delivery order.
func (f *Fanout) Register(name string, b Broker) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Copy on write: each iterates a snapshot without holding the lock.
	next := make([]sink, 0, len(f.sinks)+1)
	for _, s := range f.sinks {
		if s.name != name {
			next = append(next, s)
		}
	}
	f.sinks = append(next, sink{name: name, b: b})
	slog.Info("broker: sink registered", "sink", name, "total_sinks", len(f.sinks))
}

// Unregister removes a sink.
func (f *Fanout) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make([]sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		if s.name != name {
			next = append(next, s)
		}
	}
	f.sinks = next
	delete(f.delivered, name)
	delete(f.failed, name)
	slog.Info("broker: sink unregistered", "sink", name, "total_sinks", len(f.sinks))
}

func (f *Fanout) SetCapture(c Capture) error {
	return f.each(func(b Broker) error { return b.SetCapture(c) })
}

func (f *Fanout) SetSensorSample(s media.SensorSample) error {
	return f.each(func(b Broker) error { return b.SetSensorSample(s) })
}

func (f *Fanout) SetInputEvent(e eventlog.InputEvent) error {
	return f.each(func(b Broker) error { return b.SetInputEvent(e) })
}

func (f *Fanout) each(call func(Broker) error) error {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		err := call(s.b)
		f.mu.Lock()
		if err != nil {
			f.failed[s.name]++
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		} else {
			f.delivered[s.name]++
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return errors.Join(errs...)
}

// Stats returns a copy of the delivery counters.
func (f *Fanout) Stats() FanoutStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := FanoutStats{
		Sinks:     len(f.sinks),
		Calls:     f.calls,
		Delivered: make(map[string]uint64, len(f.delivered)),
		Failed:    make(map[string]uint64, len(f.failed)),
	}
	for k, v := range f.delivered {
		st.Delivered[k] = v
	}
	for k, v := range f.failed {
		st.Failed[k] = v
	}
	return st
}

// StartStatsLogger logs delivery stats every interval and warns about sinks
// failing more than 80% of calls in the last interval. Blocks until ctx ends.
func (f *Fanout) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := f.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := f.Stats()
			deltaCalls := st.Calls - prev.Calls

			for name, failed := range st.Failed {
				deltaFailed := failed - prev.Failed[name]
				if deltaCalls > 0 && float64(deltaFailed)/float64(deltaCalls) > 0.80 {
					slog.Warn("broker: sink failing",
						"sink", name,
						"failure_rate_pct", int(float64(deltaFailed)/float64(deltaCalls)*100),
						"failed_last_interval", deltaFailed,
						"calls_last_interval", deltaCalls,
					)
				}
			}

			slog.Info("broker: stats", "sinks", st.Sinks, "calls", st.Calls)
			prev = st
		}
	}
}
