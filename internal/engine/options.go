// Package engine runs a replay session: a frame producer and a paced
// consumer joined by a bounded queue, driven by a controller.
//
// Goroutine topology per session:
//   - producer: reads captures and correlated input events into the queue
//   - consumer: paces emission, publishes to the broker, applies commands
//
// The consumer is the only writer of playback state. Commands are queued by
// the controller and applied inside the consumer loop.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media/container"
)

var (
	// ErrInvalidDescriptor is returned by Configure when a required path is missing.
	ErrInvalidDescriptor = errors.New("engine: invalid session descriptor")
	// ErrDisposed is returned by Configure after Dispose.
	ErrDisposed = errors.New("engine: controller disposed")
	// ErrShutdownTimeout is reported when the loops miss the shutdown grace period.
	ErrShutdownTimeout = errors.New("engine: shutdown timeout")
)

// Descriptor names the three files of a recorded session.
type Descriptor struct {
	MediaPath    string
	EventLogPath string
	MetadataPath string
}

// Validate checks that every path is present.
func (d Descriptor) Validate() error {
	var missing []string
	if d.MediaPath == "" {
		missing = append(missing, "media path")
	}
	if d.EventLogPath == "" {
		missing = append(missing, "event log path")
	}
	if d.MetadataPath == "" {
		missing = append(missing, "metadata path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDescriptor, strings.Join(missing, ", "))
	}
	return nil
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	QueueCapacity   int           // default 8
	IdlePoll        time.Duration // default 100ms, also caps every non-pacing wait
	MaxPacingWait   time.Duration // default 5s
	ShutdownGrace   time.Duration // default 2s
	ReadRetryMin    time.Duration // default 50ms
	ReadRetryMax    time.Duration // default 2s
	MailboxCapacity int           // default playback.DefaultMailboxCapacity

	MediaOpener media.Opener                      // default container.Opener
	EventSource func(path string) eventlog.Source // default eventlog.FileSource
	Deriver     media.Deriver                     // default media.EmbeddedSamples
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 8
	}
	if o.IdlePoll <= 0 {
		o.IdlePoll = 100 * time.Millisecond
	}
	if o.MaxPacingWait <= 0 {
		o.MaxPacingWait = 5 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 2 * time.Second
	}
	if o.ReadRetryMin <= 0 {
		o.ReadRetryMin = 50 * time.Millisecond
	}
	if o.ReadRetryMax <= 0 {
		o.ReadRetryMax = 2 * time.Second
	}
	if o.ReadRetryMax < o.ReadRetryMin {
		o.ReadRetryMax = o.ReadRetryMin
	}
	if o.MediaOpener == nil {
		o.MediaOpener = container.Opener
	}
	if o.EventSource == nil {
		o.EventSource = func(path string) eventlog.Source { return eventlog.FileSource{Path: path} }
	}
	if o.Deriver == nil {
		o.Deriver = media.EmbeddedSamples{}
	}
	return o
}
