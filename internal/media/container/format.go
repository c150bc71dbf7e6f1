// Package container implements the replay recording container: a flat file
// of length-prefixed records whose metadata is msgpack encoded.
//
// Layout:
//
//	magic "RPLYCAP\x01"
//	header record (calibration)
//	frame record...
//
// Each record is an 18-byte prefix followed by metadata and image bytes:
//
//	kind(1) flags(1) ts_us(8, BE) meta_len(4, BE) image_len(4, BE) meta image
package container

import (
	"encoding/binary"
	"errors"
)

const (
	magic     = "RPLYCAP\x01"
	prefixLen = 18

	kindHeader byte = 'H'
	kindFrame  byte = 'F'

	flagTimestamp byte = 1 << 0
	flagImage     byte = 1 << 1
)

var (
	// ErrBadMagic is returned when a file is not a recording container.
	ErrBadMagic = errors.New("container: not a recording container")
	// ErrNoHeader is returned when the calibration header is missing.
	ErrNoHeader = errors.New("container: missing calibration header")
)

type prefix struct {
	kind     byte
	flags    byte
	ts       int64
	metaLen  uint32
	imageLen uint32
}

func (p prefix) encode(b []byte) {
	b[0] = p.kind
	b[1] = p.flags
	binary.BigEndian.PutUint64(b[2:10], uint64(p.ts))
	binary.BigEndian.PutUint32(b[10:14], p.metaLen)
	binary.BigEndian.PutUint32(b[14:18], p.imageLen)
}

func decodePrefix(b []byte) prefix {
	return prefix{
		kind:     b[0],
		flags:    b[1],
		ts:       int64(binary.BigEndian.Uint64(b[2:10])),
		metaLen:  binary.BigEndian.Uint32(b[10:14]),
		imageLen: binary.BigEndian.Uint32(b[14:18]),
	}
}

func (p prefix) size() int64 {
	return prefixLen + int64(p.metaLen) + int64(p.imageLen)
}

// frameMeta is the msgpack body of a frame record.
type frameMeta struct {
	Sample *sampleMeta `msgpack:"sample,omitempty"`
}

type sampleMeta struct {
	TimestampUs int64     `msgpack:"ts_us"`
	Kind        string    `msgpack:"kind"`
	Values      []float64 `msgpack:"values"`
}
