package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version   byte = 1
	kindEntry byte = 1

	flagPaging  byte = 1 << 0
	flagHasNext byte = 1 << 1
	flagHasPrev byte = 1 << 2

	// magic(4) | ver(1) | kind(1) | rev(8) | flags(1) | items(4) | pages(4) | updated(8) | vlen(4)
	entryHeader = 4 + 1 + 1 + 8 + 1 + 4 + 4 + 8 + 4
)

var (
	ErrCorrupt  = errors.New("swrcache: corrupt retained entry")
	ErrTooLarge = errors.New("swrcache: retained field exceeds frame limits")
	magic4      = [...]byte{'S', 'W', 'R', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is the retained form of an evicted cache entry.
type Entry struct {
	Rev             uint64
	HasPaging       bool
	TotalItems      uint32
	TotalPages      uint32
	HasNextPage     bool
	HasPreviousPage bool
	UpdatedAtNano   int64
	Payload         []byte
}

// EncodeEntry frames e. Payloads longer than MaxUint32 are rejected.
func EncodeEntry(e Entry) ([]byte, error) {
	if uint64(len(e.Payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}

	var buf bytes.Buffer
	buf.Grow(entryHeader + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Rev)
	buf.Write(u8[:])

	var flags byte
	if e.HasPaging {
		flags |= flagPaging
		if e.HasNextPage {
			flags |= flagHasNext
		}
		if e.HasPreviousPage {
			flags |= flagHasPrev
		}
	}
	buf.WriteByte(flags)

	binary.BigEndian.PutUint32(u4[:], e.TotalItems)
	buf.Write(u4[:])
	binary.BigEndian.PutUint32(u4[:], e.TotalPages)
	buf.Write(u4[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.UpdatedAtNano))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses a frame produced by EncodeEntry. The returned payload
// aliases b. Trailing bytes are rejected.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHeader || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6
	var e Entry

	e.Rev = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	flags := b[off]
	off++
	if flags&^(flagPaging|flagHasNext|flagHasPrev) != 0 {
		return Entry{}, ErrCorrupt
	}
	e.HasPaging = flags&flagPaging != 0
	e.HasNextPage = flags&flagHasNext != 0
	e.HasPreviousPage = flags&flagHasPrev != 0

	e.TotalItems = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	e.TotalPages = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	e.UpdatedAtNano = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off { // strict framing: no short reads, no trailing bytes
		return Entry{}, ErrCorrupt
	}

	e.Payload = b[off : off+vlen]
	return e, nil
}
