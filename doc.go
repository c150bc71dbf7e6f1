// Package replay plays back a recorded capture session: a stream of media
// frames and an independently written log of input events, re-emitted with
// their original timing.
//
// # Architecture
//
// One session runs two goroutines joined by a bounded queue:
//
//	media file ──► producer ──► [queue] ──► paced consumer ──► Broker
//	event log  ──┘ (correlate)               (commands applied here)
//
// The producer reads a frame, attaches every input event logged up to that
// frame's media timestamp and enqueues the unit. The consumer sleeps for the
// recorded interval since the previous frame, then publishes the capture,
// its sensor sample and its events, in that order.
//
// Media and log clocks are correlated by a single linear offset computed
// from the session metadata. No drift correction is applied.
//
// # Ownership
//
// Each decoded capture is released exactly once: after it is published, when
// it is dropped by a seek or rewind, or when the session is disposed.
//
// # Basic Usage
//
//	p := replay.New(myBroker, replay.Options{})
//	defer p.Dispose(context.Background())
//
//	err := p.Configure(ctx, replay.Descriptor{
//	    MediaPath:    "capture.cap",
//	    EventLogPath: "input.log",
//	    MetadataPath: "session.yaml",
//	})
//	if err != nil {
//	    return err
//	}
//	p.Play()
//	...
//	p.Seek(90 * 1_000_000) // µs
//
// Play, Pause, Rewind and Seek never block; they are queued and applied by
// the consumer in order. State returns the latest snapshot.
package replay
