// Package gstsource reads recorded media files through a GStreamer decode
// pipeline.
//
// Pipeline: filesrc → decodebin → videoconvert → videoscale → capsfilter(RGB) → appsink
//
// decodebin has dynamic pads, linked in the pad-added callback. The appsink
// callback copies each sample into a pooled buffer and blocks until Next
// takes it, so decoding never runs ahead of the replay queue.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

const busPoll = 50 * time.Millisecond

// Options configures the decode pipeline.
type Options struct {
	Width  int // 0 keeps the native size
	Height int
	Depth  int // decoded frames buffered ahead of Next, default 2
}

// NewOpener returns a media.Opener backed by GStreamer.
func NewOpener(opts Options) media.Opener {
	return func(ctx context.Context, path string) (media.Source, error) {
		return Open(ctx, path, opts)
	}
}

// Source is a media.Source over a GStreamer pipeline.
type Source struct {
	path     string
	opts     Options
	pipeline *gst.Pipeline
	sink     *app.Sink

	frames chan *capture
	closed chan struct{}

	mu      sync.Mutex
	flush   chan struct{} // closed while a seek is in progress
	failure error
	isOpen  bool

	eos       atomic.Bool
	decoded   atomic.Uint64
	discarded atomic.Uint64

	pool sync.Pool
	wg   sync.WaitGroup
}

var _ media.Source = (*Source)(nil)

// Open builds the pipeline for path and starts decoding.
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Depth <= 0 {
		opts.Depth = 2
	}

	gst.Init(nil)

	s := &Source{
		path:   path,
		opts:   opts,
		frames: make(chan *capture, opts.Depth),
		closed: make(chan struct{}),
		flush:  make(chan struct{}),
		isOpen: true,
	}

	if err := s.build(); err != nil {
		return nil, err
	}

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsource: failed to start pipeline: %w", err)
	}

	s.wg.Add(1)
	go s.monitorBus()

	slog.Info("gstsource: pipeline started", "path", path, "width", opts.Width, "height", opts.Height)
	return s, nil
}

func (s *Source) build() error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", s.path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create decodebin: %w", err)
	}
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("gstsource: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(s.capsString()))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("gstsource: failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false) // replay pacing happens downstream
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", false)

	pipeline.AddMany(filesrc, decodebin, converter, scaler, capsfilter, sink.Element)

	if err := gst.ElementLinkMany(filesrc, decodebin); err != nil {
		return fmt.Errorf("gstsource: failed to link filesrc: %w", err)
	}
	if err := gst.ElementLinkMany(converter, scaler, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("gstsource: failed to link pipeline elements: %w", err)
	}

	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := converter.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("gstsource: failed to get sink pad from videoconvert")
			return
		}
		// Non-video pads fail caps negotiation here and are left unlinked.
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Debug("gstsource: pad not linked", "pad", srcPad.GetName(), "ret", ret)
			return
		}
		slog.Debug("gstsource: pads linked", "pad", srcPad.GetName())
	})

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	s.pipeline = pipeline
	s.sink = sink
	return nil
}

func (s *Source) capsString() string {
	if s.opts.Width > 0 && s.opts.Height > 0 {
		return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", s.opts.Width, s.opts.Height)
	}
	return "video/x-raw,format=RGB"
}

// onNewSample runs on the streaming thread.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstsource: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstsource: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	c := &capture{src: s, buf: s.getBuffer(len(data))}
	copy(*c.buf, data)
	buffer.Unmap()

	if pts := buffer.PresentationTimestamp(); pts >= 0 {
		c.ts, c.hasTs = pts.Microseconds(), true
	}
	s.decoded.Add(1)

	s.mu.Lock()
	flush := s.flush
	s.mu.Unlock()

	select {
	case s.frames <- c:
		return gst.FlowOK
	case <-flush:
		c.Release()
		s.discarded.Add(1)
		return gst.FlowOK
	case <-s.closed:
		c.Release()
		return gst.FlowFlushing
	}
}

func (s *Source) monitorBus() {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		msg := bus.TimedPop(busPoll)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstsource: end of stream", "path", s.path, "frames_decoded", s.decoded.Load())
			s.eos.Store(true)

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstsource: pipeline error",
				"path", s.path,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			s.mu.Lock()
			s.failure = fmt.Errorf("gstsource: pipeline error: %s", gerr.Error())
			s.mu.Unlock()
		}
	}
}

// Next returns the next decoded frame, waiting for the decoder if needed.
func (s *Source) Next(ctx context.Context) (media.Capture, error) {
	for {
		select {
		case c := <-s.frames:
			return c, nil
		default:
		}

		s.mu.Lock()
		open, failure := s.isOpen, s.failure
		s.mu.Unlock()
		switch {
		case !open:
			return nil, media.ErrClosed
		case failure != nil:
			return nil, failure
		case s.eos.Load():
			return nil, media.ErrEndOfStream
		}

		select {
		case c := <-s.frames:
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, media.ErrClosed
		case <-time.After(busPoll):
		}
	}
}

// Seek flushes the pipeline and restarts decoding at the keyframe before
// positionUs. Frames before positionUs may still be returned.
func (s *Source) Seek(ctx context.Context, positionUs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.isOpen {
		s.mu.Unlock()
		return media.ErrClosed
	}
	close(s.flush)
	s.mu.Unlock()

	s.drain()

	pos := time.Duration(positionUs) * time.Microsecond
	ok := s.pipeline.SeekSimple(int64(pos), gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit)

	s.mu.Lock()
	s.flush = make(chan struct{})
	s.failure = nil
	s.mu.Unlock()

	s.drain()
	s.eos.Store(false)

	if !ok {
		return fmt.Errorf("gstsource: seek to %dus rejected", positionUs)
	}
	slog.Debug("gstsource: seeked", "position_us", positionUs)
	return nil
}

func (s *Source) drain() {
	for {
		select {
		case c := <-s.frames:
			c.Release()
			s.discarded.Add(1)
		default:
			return
		}
	}
}

// Calibration describes the decoded output. The recording's own device
// parameters are not available through decodebin.
func (s *Source) Calibration() media.Calibration {
	return media.Calibration{
		Device: "gstreamer",
		Width:  s.opts.Width,
		Height: s.opts.Height,
		Format: "RGB",
		Properties: map[string]string{
			"path": s.path,
		},
	}
}

// Close stops the pipeline. Frames already returned by Next stay valid
// until released.
func (s *Source) Close() error {
	s.mu.Lock()
	if !s.isOpen {
		s.mu.Unlock()
		return nil
	}
	s.isOpen = false
	close(s.closed)
	s.mu.Unlock()

	s.drain()
	err := s.pipeline.SetState(gst.StateNull)
	s.wg.Wait()
	s.drain()

	slog.Info("gstsource: pipeline stopped",
		"path", s.path,
		"frames_decoded", s.decoded.Load(),
		"frames_discarded", s.discarded.Load(),
	)
	if err != nil {
		return errors.Join(errors.New("gstsource: failed to stop pipeline"), err)
	}
	return nil
}

func (s *Source) getBuffer(n int) *[]byte {
	if v := s.pool.Get(); v != nil {
		b := v.(*[]byte)
		if cap(*b) >= n {
			*b = (*b)[:n]
			return b
		}
	}
	b := make([]byte, n)
	return &b
}

type capture struct {
	src      *Source
	buf      *[]byte
	ts       int64
	hasTs    bool
	released atomic.Bool
}

func (c *capture) Image() ([]byte, bool) {
	if c.released.Load() {
		return nil, false
	}
	return *c.buf, true
}

func (c *capture) DeviceTimestamp() (int64, bool) { return c.ts, c.hasTs }

func (c *capture) Release() {
	if c.released.Swap(true) {
		return
	}
	c.src.pool.Put(c.buf)
}
