package dbn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Buffer size constants.
const (
	// DefaultBufferSize is the initial capacity of a Buffer.
	DefaultBufferSize = 64 * 1024
	// MaxBufferSize is the default hard ceiling on Buffer growth (16 MiB).
	MaxBufferSize = 16 * 1024 * 1024
	// RecordHeaderSize is the size of the common record header in bytes.
	RecordHeaderSize = 16
	// LengthMultiplier converts the header length byte into bytes.
	LengthMultiplier = 4
	// MetadataPrefixSize is the size of the "DBN" magic, version byte and u32 length.
	MetadataPrefixSize = 8
)

// compactThreshold is the free tail size below which Fill shifts unread bytes to the front.
const compactThreshold = 4 * 1024

// Buffer accumulates bytes from a stream and yields complete frames.
//
// Bytes in [consumed, filled) are retained across any number of interrupted
// Fill calls: a read either lands its bytes in the buffer or returns none,
// so abandoning a Fill never loses data. Slices returned by the Next methods
// borrow the buffer and are invalidated by the next Next or Fill call.
type Buffer struct {
	buf      []byte
	consumed int
	filled   int
	max      int
}

// NewBuffer creates a buffer with the given initial and maximum capacity.
// Non-positive values select the defaults.
func NewBuffer(size, maxSize int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if maxSize <= 0 {
		maxSize = MaxBufferSize
	}
	if size > maxSize {
		size = maxSize
	}
	return &Buffer{buf: make([]byte, size), max: maxSize}
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return b.filled - b.consumed
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// MaxCap returns the capacity ceiling.
func (b *Buffer) MaxCap() int {
	return b.max
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.consumed = 0
	b.filled = 0
}

// Fill performs a single Read into the free space after the unread bytes.
// Returned bytes are counted even when Read also returns an error.
// Reading zero bytes is not an error.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if err := b.makeRoom(); err != nil {
		return 0, err
	}
	n, err := r.Read(b.buf[b.filled:])
	if n > 0 {
		b.filled += n
	}
	return n, err
}

// Write appends p to the buffer, growing it as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.reserve(b.Len() + len(p)); err != nil {
		return 0, err
	}
	n := copy(b.buf[b.filled:], p)
	b.filled += n
	return n, nil
}

// Compact moves unread bytes to the front of the buffer.
// Any slice returned by a Next method is invalidated.
func (b *Buffer) Compact() {
	if b.consumed == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.consumed:b.filled])
	b.consumed = 0
	b.filled = n
}

// NextRecord returns the next complete record.
// The first header byte is the record length in 4-byte words.
// Returns ErrIncomplete when more bytes are required.
func (b *Buffer) NextRecord() ([]byte, error) {
	if b.Len() < RecordHeaderSize {
		return nil, ErrIncomplete
	}
	length := int(b.buf[b.consumed]) * LengthMultiplier
	if length < RecordHeaderSize {
		return nil, decodeError("record length %d is shorter than the %d byte header", length, RecordHeaderSize)
	}
	if b.Len() < length {
		if err := b.reserve(length); err != nil {
			return nil, err
		}
		return nil, ErrIncomplete
	}
	return b.take(length), nil
}

// NextLine returns the next newline-terminated control line without its
// terminator. A trailing carriage return is stripped.
// Returns ErrIncomplete when no full line is buffered.
func (b *Buffer) NextLine() ([]byte, error) {
	i := bytes.IndexByte(b.buf[b.consumed:b.filled], '\n')
	if i < 0 {
		if b.Len() >= b.max {
			return nil, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("control line exceeds maximum %d bytes", b.max),
			}
		}
		return nil, ErrIncomplete
	}
	line := b.take(i + 1)
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// NextMetadata returns the next complete metadata frame, prefix included.
// Returns ErrIncomplete when more bytes are required.
func (b *Buffer) NextMetadata() ([]byte, error) {
	if b.Len() < MetadataPrefixSize {
		return nil, ErrIncomplete
	}
	prefix := b.buf[b.consumed : b.consumed+MetadataPrefixSize]
	if !bytes.Equal(prefix[:3], metadataMagic) {
		return nil, decodeError("invalid metadata magic %q", prefix[:3])
	}
	bodyLen := binary.LittleEndian.Uint32(prefix[4:8])
	if uint64(bodyLen)+MetadataPrefixSize > uint64(b.max) {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("metadata size %d exceeds maximum %d", bodyLen, b.max),
		}
	}
	length := MetadataPrefixSize + int(bodyLen)
	if b.Len() < length {
		if err := b.reserve(length); err != nil {
			return nil, err
		}
		return nil, ErrIncomplete
	}
	return b.take(length), nil
}

func (b *Buffer) take(n int) []byte {
	out := b.buf[b.consumed : b.consumed+n : b.consumed+n]
	b.consumed += n
	if b.consumed == b.filled {
		b.consumed = 0
		b.filled = 0
	}
	return out
}

// makeRoom ensures at least one byte of free space after filled.
func (b *Buffer) makeRoom() error {
	if b.consumed > 0 && (b.consumed == b.filled || len(b.buf)-b.filled < compactThreshold) {
		b.Compact()
	}
	if b.filled < len(b.buf) {
		return nil
	}
	return b.reserve(b.Len() + 1)
}

// reserve ensures the buffer can hold n unread bytes, compacting and then
// doubling capacity up to the ceiling.
func (b *Buffer) reserve(n int) error {
	if n > b.max {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("frame size %d exceeds maximum %d", n, b.max),
		}
	}
	if len(b.buf)-b.consumed >= n {
		return nil
	}
	b.Compact()
	if len(b.buf) >= n {
		return nil
	}
	size := len(b.buf)
	if size == 0 {
		size = DefaultBufferSize
	}
	for size < n {
		size *= 2
	}
	if size > b.max {
		size = b.max
	}
	grown := make([]byte, size)
	copy(grown, b.buf[:b.filled])
	b.buf = grown
	return nil
}
