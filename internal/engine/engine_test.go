package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker/brokertest"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/clock"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media/mediatest"
)

type fixture struct {
	ctrl *engine.Controller
	src  *mediatest.Source
	rec  *brokertest.Recorder
	desc engine.Descriptor
}

func testOptions(src media.Source, log eventlog.Source) engine.Options {
	return engine.Options{
		QueueCapacity: 4,
		IdlePoll:      10 * time.Millisecond,
		MaxPacingWait: time.Second,
		ShutdownGrace: 2 * time.Second,
		ReadRetryMin:  time.Millisecond,
		ReadRetryMax:  5 * time.Millisecond,
		MediaOpener: func(context.Context, string) (media.Source, error) {
			return src, nil
		},
		EventSource: func(string) eventlog.Source { return log },
	}
}

func writeMetadata(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("log_clock_frequency_hz: 1000000\n"), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return path
}

func newFixture(t *testing.T, src *mediatest.Source, log eventlog.Source) *fixture {
	t.Helper()
	f := &fixture{
		src: src,
		rec: brokertest.NewRecorder(),
		desc: engine.Descriptor{
			MediaPath:    "recording.cap",
			EventLogPath: "events.log",
			MetadataPath: writeMetadata(t),
		},
	}
	f.ctrl = engine.New(f.rec, testOptions(src, log))
	if err := f.ctrl.Configure(context.Background(), f.desc); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	t.Cleanup(func() {
		f.ctrl.Dispose(context.Background())
	})
	return f
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ended reports whether playback stopped at the end of the recording.
func (f *fixture) ended() bool {
	st := f.ctrl.Stats()
	return st.Exhausted && !st.State.Reading && st.FramesEmitted > 0
}

type emission struct {
	kind brokertest.Kind
	ts   int64
}

func (f *fixture) emissions() []emission {
	var out []emission
	for _, e := range f.rec.Entries() {
		switch e.Kind {
		case brokertest.KindCapture:
			out = append(out, emission{brokertest.KindCapture, e.Capture.TimestampUs})
		case brokertest.KindEvent:
			out = append(out, emission{brokertest.KindEvent, e.Event.Timestamp})
		}
	}
	return out
}

func TestPlayEmitsFramesWithCorrelatedEventsInOrder(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(5, 1000)...)
	log := eventlog.Lines(
		"500 key 65 down",
		"1500 mouse 10 20 left down",
		"3500 key 65 up",
		"9000 key 66 down", // after the last frame, never emitted
	)
	f := newFixture(t, src, log)

	if !f.ctrl.Play() {
		t.Fatal("Play was not queued")
	}
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	want := []emission{
		{brokertest.KindCapture, 0},
		{brokertest.KindCapture, 1000},
		{brokertest.KindEvent, 500},
		{brokertest.KindCapture, 2000},
		{brokertest.KindEvent, 1500},
		{brokertest.KindCapture, 3000},
		{brokertest.KindCapture, 4000},
		{brokertest.KindEvent, 3500},
	}
	got := f.emissions()
	if len(got) != len(want) {
		t.Fatalf("got %d emissions %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emission %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if st := f.ctrl.State(); st.PositionUs != 4000 {
		t.Errorf("PositionUs = %d, want 4000", st.PositionUs)
	}
	if n := src.Outstanding(); n != 0 {
		t.Errorf("outstanding captures = %d, want 0", n)
	}
	if n := src.DoubleReleases(); n != 0 {
		t.Errorf("double releases = %d", n)
	}

	stats := f.ctrl.Stats()
	if stats.FramesEmitted != 5 || stats.EventsPublished != 3 {
		t.Errorf("FramesEmitted=%d EventsPublished=%d, want 5 and 3", stats.FramesEmitted, stats.EventsPublished)
	}
}

func TestCaptureIDsIncreaseWithinSession(t *testing.T) {
	f := newFixture(t, mediatest.New(mediatest.Timeline(6, 500)...), eventlog.Lines())
	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	var last uint64
	for _, c := range f.rec.Captures() {
		if c.Capture.ID <= last {
			t.Fatalf("capture id %d not greater than %d", c.Capture.ID, last)
		}
		last = c.Capture.ID
		if c.Capture.SessionID != f.ctrl.SessionID() {
			t.Errorf("capture session id %q, want %q", c.Capture.SessionID, f.ctrl.SessionID())
		}
		if c.Capture.TraceID == "" {
			t.Error("capture has no trace id")
		}
	}
}

func TestInitialStateIsPausedAtZero(t *testing.T) {
	f := newFixture(t, mediatest.New(mediatest.Timeline(3, 1000)...), eventlog.Lines())

	time.Sleep(50 * time.Millisecond)
	st := f.ctrl.State()
	if st.Reading || st.PositionUs != 0 {
		t.Errorf("state = %+v, want paused at 0", st)
	}
	if n := len(f.rec.Entries()); n != 0 {
		t.Errorf("%d emissions before Play", n)
	}
	if n := f.src.Acquired(); n != 0 {
		t.Errorf("%d captures read before Play", n)
	}
}

func TestSeekWhilePausedReleasesBufferedFrames(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(40, 1000)...)
	log := eventlog.Lines(
		"9500 key 1 down",
		"10500 key 2 down",
	)
	f := newFixture(t, src, log)

	f.ctrl.Play()
	if !f.rec.WaitCaptures(3, 2*time.Second) {
		t.Fatal("no captures emitted")
	}
	f.ctrl.Pause()
	waitFor(t, "pause", time.Second, func() bool { return !f.ctrl.State().Reading })

	f.ctrl.Seek(10_000)
	waitFor(t, "seek", time.Second, func() bool { return f.ctrl.State().PositionUs == 10_000 })

	if n := src.Outstanding(); n != 0 {
		t.Fatalf("outstanding captures after seek = %d, want 0", n)
	}

	f.rec.Reset()
	f.ctrl.Play()
	if !f.rec.WaitCaptures(2, 2*time.Second) {
		t.Fatal("no captures after seek")
	}
	f.ctrl.Pause()

	caps := f.rec.Captures()
	if caps[0].Capture.TimestampUs != 10_000 {
		t.Errorf("first capture after seek at %d, want 10000", caps[0].Capture.TimestampUs)
	}
	for _, c := range caps {
		if c.Capture.TimestampUs < 10_000 {
			t.Errorf("capture at %d emitted after seeking to 10000", c.Capture.TimestampUs)
		}
	}
	for _, ev := range f.rec.Events() {
		if ev.Timestamp < 10_000 {
			t.Errorf("event at %d emitted after seeking to 10000", ev.Timestamp)
		}
	}
}

func TestSeekWhilePlayingContinuesFromTarget(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(200, 1000)...)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	if !f.rec.WaitCaptures(2, 2*time.Second) {
		t.Fatal("no captures emitted")
	}
	f.ctrl.Seek(150_000)
	waitFor(t, "capture past seek target", 2*time.Second, func() bool {
		for _, c := range f.rec.Captures() {
			if c.Capture.TimestampUs >= 150_000 {
				return true
			}
		}
		return false
	})
	if !f.ctrl.State().Reading {
		t.Error("seek stopped playback")
	}
}

func TestRewindReplaysFromStart(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(5, 1000)...)
	f := newFixture(t, src, eventlog.Lines("0 key 13 down"))

	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)
	if got := len(f.rec.Events()); got != 1 {
		t.Fatalf("events in first pass = %d, want 1", got)
	}

	f.ctrl.Rewind()
	waitFor(t, "rewind", time.Second, func() bool { return f.ctrl.State().PositionUs == 0 })
	if f.ctrl.State().Reading {
		t.Error("rewind after end of stream started playback")
	}

	f.rec.Reset()
	f.ctrl.Play()
	waitFor(t, "second end of stream", 2*time.Second, func() bool {
		return f.ended() && len(f.rec.Captures()) == 5
	})

	got := f.emissions()
	if got[0] != (emission{brokertest.KindCapture, 0}) || got[1] != (emission{brokertest.KindEvent, 0}) {
		t.Errorf("replay started with %v, want capture 0 then event 0", got[:2])
	}
	if n := src.Outstanding(); n != 0 {
		t.Errorf("outstanding captures = %d, want 0", n)
	}
}

func TestPacingFollowsRecordedIntervals(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(4, 33_000)...)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	caps := f.rec.Captures()
	if len(caps) != 4 {
		t.Fatalf("captures = %d, want 4", len(caps))
	}
	for i := 1; i < len(caps); i++ {
		gap := caps[i].At.Sub(caps[i-1].At)
		if gap < 30*time.Millisecond {
			t.Errorf("gap before capture %d = %v, want >= 30ms", i, gap)
		}
	}

	p := f.ctrl.Stats().Pacing
	if p.CatchUps != 1 {
		t.Errorf("CatchUps = %d, want 1", p.CatchUps)
	}
	if p.Samples != 3 {
		t.Errorf("Samples = %d, want 3", p.Samples)
	}
}

func TestLongGapsAreClamped(t *testing.T) {
	src := mediatest.New(0, 10_000_000)
	f := newFixture(t, src, eventlog.Lines())

	start := time.Now()
	f.ctrl.Play()
	waitFor(t, "end of stream", 3*time.Second, f.ended)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("10s gap took %v, want it clamped to the 1s cap", elapsed)
	}
	if n := f.ctrl.Stats().Pacing.Clamped; n != 1 {
		t.Errorf("Clamped = %d, want 1", n)
	}
}

func TestPauseStopsEmissionPromptly(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(100, 20_000)...)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	if !f.rec.WaitCaptures(3, 2*time.Second) {
		t.Fatal("no captures emitted")
	}
	before := len(f.rec.Captures())
	f.ctrl.Pause()
	waitFor(t, "pause", time.Second, func() bool { return !f.ctrl.State().Reading })

	atPause := len(f.rec.Captures())
	if atPause > before+1 {
		t.Errorf("%d captures emitted after Pause, want at most 1", atPause-before)
	}

	time.Sleep(100 * time.Millisecond)
	if after := len(f.rec.Captures()); after != atPause {
		t.Errorf("captures kept flowing while paused: %d -> %d", atPause, after)
	}
}

func TestPauseThenPlayResumes(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(10, 1000)...)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	f.ctrl.Pause()
	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	caps := f.rec.Captures()
	if len(caps) != 10 {
		t.Fatalf("captures = %d, want 10", len(caps))
	}
	for i, c := range caps {
		if c.Capture.TimestampUs != int64(i)*1000 {
			t.Errorf("capture %d at %d, want %d", i, c.Capture.TimestampUs, i*1000)
		}
	}
}

func TestTransientReadErrorsAreRetried(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(5, 1000)...)
	src.FailAt(2, 3)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	if n := len(f.rec.Captures()); n != 5 {
		t.Errorf("captures = %d, want 5", n)
	}
	if n := f.ctrl.Stats().ReadErrors; n != 3 {
		t.Errorf("ReadErrors = %d, want 3", n)
	}
}

func TestPublishFailuresDoNotStopPlayback(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(5, 1000)...)
	f := newFixture(t, src, eventlog.Lines("1500 key 1 down"))
	f.rec.FailCaptures(errors.New("sink offline"))

	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	if n := len(f.rec.Captures()); n != 5 {
		t.Errorf("captures = %d, want 5", n)
	}
	if n := len(f.rec.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if n := f.ctrl.Stats().PublishErrors; n != 5 {
		t.Errorf("PublishErrors = %d, want 5", n)
	}
	if n := src.Outstanding(); n != 0 {
		t.Errorf("outstanding captures = %d, want 0", n)
	}
}

func TestSensorSamplesFollowTheirCapture(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(3, 1000)...).WithSamples()
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	waitFor(t, "end of stream", 2*time.Second, f.ended)

	entries := f.rec.Entries()
	if len(entries) != 6 {
		t.Fatalf("entries = %d, want 6", len(entries))
	}
	for i := 0; i < len(entries); i += 2 {
		if entries[i].Kind != brokertest.KindCapture || entries[i+1].Kind != brokertest.KindSample {
			t.Fatalf("entries %d,%d are not capture then sample", i, i+1)
		}
		if entries[i+1].Sample.TimestampUs != entries[i].Capture.TimestampUs {
			t.Errorf("sample at %d follows capture at %d", entries[i+1].Sample.TimestampUs, entries[i].Capture.TimestampUs)
		}
	}
}

func TestConcurrentDisposeReleasesEverything(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(500, 1000)...)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	if !f.rec.WaitCaptures(5, 2*time.Second) {
		t.Fatal("no captures emitted")
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.ctrl.Dispose(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Dispose #%d: %v", i, err)
		}
	}
	if n := src.Outstanding(); n != 0 {
		t.Errorf("outstanding captures after Dispose = %d, want 0", n)
	}
	if n := src.DoubleReleases(); n != 0 {
		t.Errorf("double releases = %d", n)
	}
	if !src.Closed() {
		t.Error("media source not closed")
	}

	if f.ctrl.Play() {
		t.Error("Play accepted after Dispose")
	}
	if err := f.ctrl.Configure(context.Background(), f.desc); !errors.Is(err, engine.ErrDisposed) {
		t.Errorf("Configure after Dispose = %v, want ErrDisposed", err)
	}
}

func TestDisposeDuringReadReleasesRejectedCapture(t *testing.T) {
	src := mediatest.New(mediatest.Timeline(50, 1000)...)
	src.SetReadDelay(100 * time.Millisecond)
	f := newFixture(t, src, eventlog.Lines())

	f.ctrl.Play()
	waitFor(t, "a read in progress after the first capture", 2*time.Second, func() bool {
		return len(f.rec.Captures()) >= 1 && src.InFlight() == 1
	})

	if err := f.ctrl.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	st := f.ctrl.Stats()
	if st.Configured {
		t.Error("Stats reports a configured session after Dispose")
	}
	if st.FramesRejected < 1 {
		t.Errorf("FramesRejected = %d, want >= 1", st.FramesRejected)
	}
	if st.Captures.Acquired != st.Captures.Released {
		t.Errorf("ledger acquired %d, released %d", st.Captures.Acquired, st.Captures.Released)
	}
	if n := src.Outstanding(); n != 0 {
		t.Errorf("outstanding captures = %d, want 0", n)
	}
	if n := src.DoubleReleases(); n != 0 {
		t.Errorf("double releases = %d", n)
	}
}

func TestReconfigureTearsDownPreviousSession(t *testing.T) {
	first := mediatest.New(mediatest.Timeline(100, 1000)...)
	second := mediatest.New(mediatest.Timeline(3, 1000)...)
	sources := []*mediatest.Source{first, second}
	var opened int

	rec := brokertest.NewRecorder()
	opts := testOptions(nil, eventlog.Lines())
	opts.MediaOpener = func(context.Context, string) (media.Source, error) {
		s := sources[opened]
		opened++
		return s, nil
	}
	ctrl := engine.New(rec, opts)
	defer ctrl.Dispose(context.Background())

	desc := engine.Descriptor{MediaPath: "a", EventLogPath: "b", MetadataPath: writeMetadata(t)}
	if err := ctrl.Configure(context.Background(), desc); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	firstID := ctrl.SessionID()
	ctrl.Play()
	if !rec.WaitCaptures(2, 2*time.Second) {
		t.Fatal("no captures from first session")
	}

	if err := ctrl.Configure(context.Background(), desc); err != nil {
		t.Fatalf("second Configure: %v", err)
	}
	if !first.Closed() || first.Outstanding() != 0 {
		t.Errorf("first source closed=%v outstanding=%d", first.Closed(), first.Outstanding())
	}
	if ctrl.SessionID() == firstID {
		t.Error("session id did not change")
	}
	if st := ctrl.State(); st.Reading || st.PositionUs != 0 {
		t.Errorf("new session state = %+v, want paused at 0", st)
	}
}

func TestConfigureErrors(t *testing.T) {
	rec := brokertest.NewRecorder()
	meta := writeMetadata(t)

	t.Run("missing paths", func(t *testing.T) {
		ctrl := engine.New(rec, engine.Options{})
		err := ctrl.Configure(context.Background(), engine.Descriptor{MediaPath: "x"})
		if !errors.Is(err, engine.ErrInvalidDescriptor) {
			t.Errorf("err = %v, want ErrInvalidDescriptor", err)
		}
	})

	t.Run("missing metadata", func(t *testing.T) {
		ctrl := engine.New(rec, engine.Options{})
		err := ctrl.Configure(context.Background(), engine.Descriptor{
			MediaPath:    "x",
			EventLogPath: "y",
			MetadataPath: filepath.Join(t.TempDir(), "absent.yaml"),
		})
		if !errors.Is(err, clock.ErrMetadataNotFound) {
			t.Errorf("err = %v, want ErrMetadataNotFound", err)
		}
	})

	t.Run("missing event log", func(t *testing.T) {
		ctrl := engine.New(rec, engine.Options{})
		err := ctrl.Configure(context.Background(), engine.Descriptor{
			MediaPath:    "x",
			EventLogPath: filepath.Join(t.TempDir(), "absent.log"),
			MetadataPath: meta,
		})
		if !errors.Is(err, eventlog.ErrNotFound) {
			t.Errorf("err = %v, want eventlog.ErrNotFound", err)
		}
	})

	t.Run("event log is a directory", func(t *testing.T) {
		ctrl := engine.New(rec, engine.Options{})
		err := ctrl.Configure(context.Background(), engine.Descriptor{
			MediaPath:    "x",
			EventLogPath: t.TempDir(),
			MetadataPath: meta,
		})
		if !errors.Is(err, eventlog.ErrIO) {
			t.Errorf("err = %v, want eventlog.ErrIO", err)
		}
	})

	t.Run("media open failure", func(t *testing.T) {
		openErr := errors.New("no such recording")
		opts := engine.Options{
			EventSource: func(string) eventlog.Source { return eventlog.Lines() },
			MediaOpener: func(context.Context, string) (media.Source, error) { return nil, openErr },
		}
		ctrl := engine.New(rec, opts)
		err := ctrl.Configure(context.Background(), engine.Descriptor{MediaPath: "x", EventLogPath: "y", MetadataPath: meta})
		if !errors.Is(err, openErr) {
			t.Errorf("err = %v, want %v", err, openErr)
		}
		if ctrl.Stats().Configured {
			t.Error("controller configured after failed Configure")
		}
	})
}

func TestCommandsWithoutSessionAreDropped(t *testing.T) {
	ctrl := engine.New(brokertest.NewRecorder(), engine.Options{})
	if ctrl.Play() || ctrl.Pause() || ctrl.Rewind() || ctrl.Seek(10) {
		t.Error("command accepted without a session")
	}
	if st := ctrl.State(); st.Reading {
		t.Errorf("state = %+v, want zero", st)
	}
	if err := ctrl.Dispose(context.Background()); err != nil {
		t.Errorf("Dispose of idle controller: %v", err)
	}
}

func TestCalibrationComesFromMediaSource(t *testing.T) {
	f := newFixture(t, mediatest.New(0), eventlog.Lines())
	cal, ok := f.ctrl.Calibration()
	if !ok || cal.Device != "mediatest" {
		t.Errorf("Calibration = %+v, %v", cal, ok)
	}
}
