package container

import (
	"bufio"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// Frame is a frame to be written into a container.
type Frame struct {
	TimestampUs  int64
	HasTimestamp bool
	Image        []byte
	Sample       *media.SensorSample
}

// Writer appends frames to a new container file.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	frames int
}

// Create creates path and writes the calibration header.
func Create(path string, cal media.Calibration) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("container: create %s: %w", path, err)
	}

	w := &Writer{f: f, w: bufio.NewWriter(f)}
	if _, err := w.w.WriteString(magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("container: write magic: %w", err)
	}

	meta, err := msgpack.Marshal(&cal)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("container: encode calibration: %w", err)
	}
	if err := w.writeRecord(prefix{kind: kindHeader}, meta, nil); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteFrame appends one frame record.
func (w *Writer) WriteFrame(fr Frame) error {
	var m frameMeta
	if fr.Sample != nil {
		m.Sample = &sampleMeta{
			TimestampUs: fr.Sample.TimestampUs,
			Kind:        fr.Sample.Kind,
			Values:      fr.Sample.Values,
		}
	}
	meta, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("container: encode frame %d: %w", w.frames, err)
	}

	p := prefix{kind: kindFrame}
	if fr.HasTimestamp {
		p.flags |= flagTimestamp
		p.ts = fr.TimestampUs
	}
	if fr.Image != nil {
		p.flags |= flagImage
	}
	if err := w.writeRecord(p, meta, fr.Image); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("container: flush: %w", err)
	}
	return w.f.Close()
}

func (w *Writer) writeRecord(p prefix, meta, image []byte) error {
	p.metaLen = uint32(len(meta))
	p.imageLen = uint32(len(image))

	var hdr [prefixLen]byte
	p.encode(hdr[:])
	for _, part := range [][]byte{hdr[:], meta, image} {
		if _, err := w.w.Write(part); err != nil {
			return fmt.Errorf("container: write record: %w", err)
		}
	}
	return nil
}
