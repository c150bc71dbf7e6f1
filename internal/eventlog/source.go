package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

var (
	// ErrNotFound is returned when the event log does not exist.
	ErrNotFound = errors.New("eventlog: log not found")
	// ErrIO is returned when the event log exists but cannot be read.
	ErrIO = errors.New("eventlog: log unreadable")
)

// Source opens the raw event log. Every Open restarts from the beginning.
type Source interface {
	Open() (io.ReadCloser, error)
	Name() string
}

// FileSource reads the log from disk.
type FileSource struct {
	Path string
}

func (f FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, f.Path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, f.Path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, f.Path, err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, fmt.Errorf("%w: %s: not a regular file", ErrIO, f.Path)
	}
	return file, nil
}

func (f FileSource) Name() string { return f.Path }

// MemorySource serves a log held in memory.
type MemorySource struct {
	Label string
	Data  []byte
}

// Lines builds a MemorySource from already formatted lines.
func Lines(lines ...string) MemorySource {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return MemorySource{Label: "memory", Data: buf.Bytes()}
}

func (m MemorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}

func (m MemorySource) Name() string { return m.Label }
