package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

type entry struct {
	off   int64
	p     prefix
	effTs int64 // last known timestamp at or before this frame, for seeking
}

// Reader is a media.Source over a container file.
type Reader struct {
	path string

	mu     sync.Mutex
	f      *os.File
	cal    media.Calibration
	index  []entry
	pos    int
	closed bool

	pool        sync.Pool
	outstanding atomic.Int64
	corrupt     atomic.Uint64
}

var _ media.Source = (*Reader)(nil)

// Open opens a container and indexes its frame records.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}

	r := &Reader{path: path, f: f}
	if err := r.buildIndex(); err != nil {
		f.Close()
		return nil, err
	}

	slog.Info("container: recording opened",
		"path", path,
		"frames", len(r.index),
		"device", r.cal.Device,
		"resolution", fmt.Sprintf("%dx%d", r.cal.Width, r.cal.Height),
	)
	return r, nil
}

// Opener adapts Open to media.Opener.
func Opener(_ context.Context, path string) (media.Source, error) {
	return Open(path)
}

func (r *Reader) buildIndex() error {
	st, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("container: stat: %w", err)
	}
	size := st.Size()

	head := make([]byte, len(magic))
	if _, err := r.f.ReadAt(head, 0); err != nil || string(head) != magic {
		return fmt.Errorf("%w: %s", ErrBadMagic, r.path)
	}

	off := int64(len(magic))
	var hdr [prefixLen]byte
	var seenHead bool
	var lastTs int64
	for off < size {
		if _, err := r.f.ReadAt(hdr[:], off); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Warn("container: truncated record prefix, ignoring tail", "path", r.path, "offset", off)
				break
			}
			return fmt.Errorf("container: read prefix at %d: %w", off, err)
		}
		p := decodePrefix(hdr[:])
		if off+p.size() > size {
			slog.Warn("container: truncated record, ignoring tail", "path", r.path, "offset", off)
			break
		}

		switch p.kind {
		case kindHeader:
			meta := make([]byte, p.metaLen)
			if _, err := r.f.ReadAt(meta, off+prefixLen); err != nil {
				return fmt.Errorf("container: read header: %w", err)
			}
			if err := msgpack.Unmarshal(meta, &r.cal); err != nil {
				return fmt.Errorf("container: decode calibration: %w", err)
			}
			seenHead = true
		case kindFrame:
			if p.flags&flagTimestamp != 0 {
				lastTs = p.ts
			}
			r.index = append(r.index, entry{off: off, p: p, effTs: lastTs})
		default:
			slog.Warn("container: unknown record kind, skipping", "kind", p.kind, "offset", off)
		}
		off += p.size()
	}

	if !seenHead {
		return fmt.Errorf("%w: %s", ErrNoHeader, r.path)
	}
	return nil
}

// Calibration returns the recorded device calibration.
func (r *Reader) Calibration() media.Calibration {
	return r.cal
}

// Len returns the number of indexed frames.
func (r *Reader) Len() int {
	return len(r.index)
}

// Outstanding returns the number of captures not yet released.
func (r *Reader) Outstanding() int64 {
	return r.outstanding.Load()
}

// Next reads the frame at the current position.
//
// A read failure leaves the position unchanged so the caller can retry. A
// record whose metadata cannot be decoded is skipped.
func (r *Reader) Next(ctx context.Context) (media.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, media.ErrClosed
	}
	if r.pos >= len(r.index) {
		return nil, media.ErrEndOfStream
	}

	e := r.index[r.pos]
	n := int(e.p.metaLen) + int(e.p.imageLen)
	buf := r.getBuffer(n)

	if _, err := r.f.ReadAt((*buf)[:n], e.off+prefixLen); err != nil {
		r.pool.Put(buf)
		return nil, fmt.Errorf("container: read frame %d: %w", r.pos, err)
	}

	var m frameMeta
	if err := msgpack.Unmarshal((*buf)[:e.p.metaLen], &m); err != nil {
		r.pool.Put(buf)
		r.corrupt.Add(1)
		r.pos++
		return nil, fmt.Errorf("container: decode frame %d: %w", r.pos-1, err)
	}
	r.pos++

	c := &capture{
		r:     r,
		buf:   buf,
		ts:    e.p.ts,
		hasTs: e.p.flags&flagTimestamp != 0,
	}
	if e.p.flags&flagImage != 0 {
		c.image = (*buf)[e.p.metaLen:n]
	}
	if m.Sample != nil {
		c.sample = &media.SensorSample{
			TimestampUs: m.Sample.TimestampUs,
			Kind:        m.Sample.Kind,
			Values:      m.Sample.Values,
		}
	}
	r.outstanding.Add(1)
	return c, nil
}

// Seek positions the reader on the first frame whose timestamp is at or
// after positionUs.
func (r *Reader) Seek(ctx context.Context, positionUs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return media.ErrClosed
	}
	r.pos = sort.Search(len(r.index), func(i int) bool {
		return r.index[i].effTs >= positionUs
	})
	slog.Debug("container: seek", "position_us", positionUs, "frame", r.pos)
	return nil
}

// Close closes the file. Captures already handed out stay valid.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if left := r.outstanding.Load(); left > 0 {
		slog.Warn("container: closed with unreleased captures", "path", r.path, "outstanding", left)
	}
	return r.f.Close()
}

func (r *Reader) getBuffer(n int) *[]byte {
	if v := r.pool.Get(); v != nil {
		buf := v.(*[]byte)
		if cap(*buf) >= n {
			*buf = (*buf)[:n]
			return buf
		}
	}
	buf := make([]byte, n)
	return &buf
}

type capture struct {
	r        *Reader
	buf      *[]byte
	image    []byte
	ts       int64
	hasTs    bool
	sample   *media.SensorSample
	released atomic.Bool
}

func (c *capture) Image() ([]byte, bool) {
	return c.image, c.image != nil
}

func (c *capture) DeviceTimestamp() (int64, bool) {
	return c.ts, c.hasTs
}

func (c *capture) SensorSample() (media.SensorSample, bool) {
	if c.sample == nil {
		return media.SensorSample{}, false
	}
	return *c.sample, true
}

func (c *capture) Release() {
	if c.released.Swap(true) {
		return
	}
	c.image = nil
	c.r.pool.Put(c.buf)
	c.r.outstanding.Add(-1)
}
