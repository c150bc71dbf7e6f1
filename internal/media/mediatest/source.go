// Package mediatest provides an in-memory media.Source that tracks capture
// ownership, for tests of code that consumes media sources.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// ErrInjected is the transient error returned for injected read failures.
var ErrInjected = errors.New("mediatest: injected read failure")

// Source replays a fixed list of device timestamps.
type Source struct {
	mu         sync.Mutex
	timestamps []int64
	pos        int
	failures   map[int]int
	readDelay  time.Duration
	closed     bool
	cal        media.Calibration
	samples    bool

	reads          atomic.Uint64
	acquired       atomic.Uint64
	outstanding    atomic.Int64
	doubleReleases atomic.Uint64
	seeks          atomic.Uint64
	inFlight       atomic.Int64
}

var _ media.Source = (*Source)(nil)

// New creates a source over the given device timestamps (µs).
func New(timestamps ...int64) *Source {
	return &Source{
		timestamps: timestamps,
		failures:   make(map[int]int),
		cal:        media.Calibration{Device: "mediatest", Width: 2, Height: 2, Format: "GRAY8", FPS: 30},
	}
}

// Timeline returns n timestamps starting at 0 spaced by stepUs.
func Timeline(n int, stepUs int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i) * stepUs
	}
	return out
}

// FailAt makes the read of frame index fail times times before succeeding.
func (s *Source) FailAt(index, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[index] = times
}

// SetReadDelay slows every read down, like a decoder would. A delayed read
// that has started completes even if its context is cancelled meanwhile.
func (s *Source) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDelay = d
}

// WithSamples makes every capture carry an embedded sensor sample.
func (s *Source) WithSamples() *Source {
	s.samples = true
	return s
}

func (s *Source) Next(ctx context.Context) (media.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.mu.Lock()
	delay := s.readDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads.Add(1)
	if s.closed {
		return nil, media.ErrClosed
	}
	if s.pos >= len(s.timestamps) {
		return nil, media.ErrEndOfStream
	}
	if n := s.failures[s.pos]; n > 0 {
		s.failures[s.pos] = n - 1
		return nil, fmt.Errorf("frame %d: %w", s.pos, ErrInjected)
	}

	c := &Capture{
		src:   s,
		index: s.pos,
		ts:    s.timestamps[s.pos],
		image: []byte{byte(s.pos), byte(s.pos >> 8)},
	}
	if s.samples {
		c.sample = &media.SensorSample{TimestampUs: c.ts, Kind: "test", Values: []float64{float64(s.pos)}}
	}
	s.pos++
	s.acquired.Add(1)
	s.outstanding.Add(1)
	return c, nil
}

func (s *Source) Seek(ctx context.Context, positionUs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return media.ErrClosed
	}
	s.pos = sort.Search(len(s.timestamps), func(i int) bool {
		return s.timestamps[i] >= positionUs
	})
	s.seeks.Add(1)
	return nil
}

func (s *Source) Calibration() media.Calibration {
	return s.cal
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Outstanding is the number of captures handed out and not yet released.
func (s *Source) Outstanding() int64 { return s.outstanding.Load() }

// Acquired is the total number of captures handed out.
func (s *Source) Acquired() uint64 { return s.acquired.Load() }

// DoubleReleases counts Release calls on already released captures.
func (s *Source) DoubleReleases() uint64 { return s.doubleReleases.Load() }

// Seeks counts Seek calls.
func (s *Source) Seeks() uint64 { return s.seeks.Load() }

// InFlight is the number of Next calls currently in progress.
func (s *Source) InFlight() int64 { return s.inFlight.Load() }

// Reads counts Next calls, including failed ones.
func (s *Source) Reads() uint64 { return s.reads.Load() }

// Capture is a capture handed out by Source.
type Capture struct {
	src      *Source
	index    int
	ts       int64
	image    []byte
	sample   *media.SensorSample
	released atomic.Bool
}

// Index is the position of the capture in the timeline.
func (c *Capture) Index() int { return c.index }

func (c *Capture) Image() ([]byte, bool) { return c.image, true }

func (c *Capture) DeviceTimestamp() (int64, bool) { return c.ts, true }

func (c *Capture) SensorSample() (media.SensorSample, bool) {
	if c.sample == nil {
		return media.SensorSample{}, false
	}
	return *c.sample, true
}

func (c *Capture) Release() {
	if c.released.Swap(true) {
		c.src.doubleReleases.Add(1)
		slog.Error("mediatest: capture released twice", "index", c.index)
		return
	}
	c.src.outstanding.Add(-1)
}
