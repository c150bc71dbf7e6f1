package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/clock"
)

const maxLineBytes = 1 << 20

// Cursor reads events in file order and hands them out by media time.
//
// It keeps at most one event past the last requested target as lookahead.
// Cursor is not safe for concurrent use; Stats may be read from any goroutine.
type Cursor struct {
	src    Source
	offset clock.Offset

	rc        io.ReadCloser
	reader    *bufio.Reader
	line      []byte
	lookahead *InputEvent
	exhausted bool
	lineNo    int

	linesRead atomic.Uint64
	delivered atomic.Uint64
	malformed atomic.Uint64
	discarded atomic.Uint64
}

// Stats is a snapshot of cursor counters.
type Stats struct {
	LinesRead       uint64
	EventsDelivered uint64
	MalformedLines  uint64
	Discarded       uint64
}

// Open opens src and positions the cursor at its first event.
func Open(src Source, offset clock.Offset) (*Cursor, error) {
	c := &Cursor{src: src, offset: offset}
	if err := c.reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenFile is Open on a FileSource.
func OpenFile(path string, offset clock.Offset) (*Cursor, error) {
	return Open(FileSource{Path: path}, offset)
}

// EventsUpTo returns, in file order, every unconsumed event whose timestamp
// converted from the log clock is at or before mediaUs. After the log is
// exhausted it returns an empty slice.
func (c *Cursor) EventsUpTo(mediaUs int64) []InputEvent {
	target := c.offset.ToLog(mediaUs)
	var out []InputEvent

	if c.lookahead != nil {
		if c.lookahead.Timestamp > target {
			return out
		}
		out = append(out, *c.lookahead)
		c.lookahead = nil
	}

	for {
		ev, ok := c.next()
		if !ok {
			break
		}
		if ev.Timestamp > target {
			c.lookahead = &ev
			break
		}
		out = append(out, ev)
	}

	c.delivered.Add(uint64(len(out)))
	return out
}

// Rewind restarts the cursor from the first event of the log.
func (c *Cursor) Rewind() error {
	return c.reset()
}

// SeekTo rewinds and then silently drops every event strictly before mediaUs.
func (c *Cursor) SeekTo(mediaUs int64) error {
	if err := c.reset(); err != nil {
		return err
	}
	target := c.offset.ToLog(mediaUs)
	for {
		ev, ok := c.next()
		if !ok {
			return nil
		}
		if ev.Timestamp >= target {
			c.lookahead = &ev
			return nil
		}
		c.discarded.Add(1)
	}
}

// Close releases the underlying reader.
func (c *Cursor) Close() error {
	c.lookahead = nil
	c.exhausted = true
	c.reader = nil
	if c.rc == nil {
		return nil
	}
	err := c.rc.Close()
	c.rc = nil
	return err
}

// Stats returns the cursor counters.
func (c *Cursor) Stats() Stats {
	return Stats{
		LinesRead:       c.linesRead.Load(),
		EventsDelivered: c.delivered.Load(),
		MalformedLines:  c.malformed.Load(),
		Discarded:       c.discarded.Load(),
	}
}

func (c *Cursor) reset() error {
	if c.rc != nil {
		c.rc.Close()
		c.rc = nil
	}
	c.lookahead = nil
	c.exhausted = false
	c.lineNo = 0

	rc, err := c.src.Open()
	if err != nil {
		c.exhausted = true
		return err
	}
	c.rc = rc
	c.reader = bufio.NewReaderSize(rc, 64*1024)
	return nil
}

// readLine returns the next line including its terminator. A line longer
// than maxLineBytes is consumed up to its newline and reported as tooLong.
func (c *Cursor) readLine() (line []byte, tooLong bool, err error) {
	c.line = c.line[:0]
	for {
		chunk, rerr := c.reader.ReadSlice('\n')
		if !tooLong {
			if len(c.line)+len(chunk) > maxLineBytes {
				tooLong = true
				c.line = c.line[:0]
			} else {
				c.line = append(c.line, chunk...)
			}
		}
		switch {
		case rerr == nil:
			return c.line, tooLong, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			if len(c.line) > 0 || tooLong {
				return c.line, tooLong, nil
			}
			return nil, false, io.EOF
		default:
			return nil, false, rerr
		}
	}
}

// next returns the next in-session event, skipping comments, malformed lines
// and events logged before the session started.
func (c *Cursor) next() (InputEvent, bool) {
	if c.exhausted || c.reader == nil {
		return InputEvent{}, false
	}

	for {
		raw, tooLong, err := c.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("eventlog: read failed, treating log as exhausted",
					"source", c.src.Name(),
					"line", c.lineNo,
					"error", fmt.Errorf("%w: %v", ErrIO, err),
				)
			}
			c.exhausted = true
			return InputEvent{}, false
		}
		c.lineNo++
		if tooLong {
			c.linesRead.Add(1)
			c.malformed.Add(1)
			slog.Warn("eventlog: skipping oversized line",
				"source", c.src.Name(),
				"line", c.lineNo,
				"max_bytes", maxLineBytes,
			)
			continue
		}

		line := strings.TrimSpace(string(raw))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c.linesRead.Add(1)

		ev, err := ParseLine(line)
		if err != nil {
			c.malformed.Add(1)
			slog.Warn("eventlog: skipping malformed line",
				"source", c.src.Name(),
				"line", c.lineNo,
				"error", err,
			)
			continue
		}
		if ev.Timestamp < c.offset.SessionStart() {
			c.discarded.Add(1)
			continue
		}
		ev.MediaUs = c.offset.ToMedia(ev.Timestamp)
		return ev, true
	}
}
