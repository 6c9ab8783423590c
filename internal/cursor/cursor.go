// Package cursor provides a positioned little-endian reader over archive bytes.
package cursor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// stringChunk is how many bytes ReadCString fetches per probe for the terminator.
const stringChunk = 64

// directReadLimit is the largest ReadBytes length allocated up front. Longer
// reads grow their buffer only as data arrives.
const directReadLimit = 1 << 20

// TruncatedReadError is returned when fewer bytes remain than a read requires.
type TruncatedReadError struct {
	Offset int64 // Absolute offset where the read started
	Want   int   // Bytes requested
	Got    int   // Bytes available
}

func (e *TruncatedReadError) Error() string {
	return fmt.Sprintf("truncated read at offset %d: want %d bytes, got %d", e.Offset, e.Want, e.Got)
}

// UnterminatedStringError is returned when no NUL byte is found before end of data.
type UnterminatedStringError struct {
	Offset int64 // Absolute offset where the string started
}

func (e *UnterminatedStringError) Error() string {
	return fmt.Sprintf("unterminated string at offset %d", e.Offset)
}

// ErrNegativeLength is returned by ReadBytes for a negative byte count.
var ErrNegativeLength = errors.New("negative read length")

// Cursor reads fixed-width values and NUL-terminated strings from an io.ReaderAt,
// tracking its own absolute position.
type Cursor struct {
	r   io.ReaderAt
	pos int64
	buf [8]byte
}

// New creates a cursor positioned at offset 0.
func New(r io.ReaderAt) *Cursor {
	return &Cursor{r: r}
}

// FromBytes creates a cursor over an in-memory buffer.
func FromBytes(b []byte) *Cursor {
	return New(bytes.NewReader(b))
}

// At returns a new cursor over the same data positioned at offset.
// The two cursors move independently.
func (c *Cursor) At(offset int64) *Cursor {
	return &Cursor{r: c.r, pos: offset}
}

// Pos returns the current absolute position.
func (c *Cursor) Pos() int64 {
	return c.pos
}

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(offset int64) {
	c.pos = offset
}

// Detour seeks to offset, runs fn, and restores the previous position on every
// exit path. Errors from fn are returned unchanged.
func (c *Cursor) Detour(offset int64, fn func() error) error {
	saved := c.pos
	defer c.Seek(saved)
	c.Seek(offset)
	return fn()
}

// fill reads exactly len(p) bytes at the current position and advances past them.
func (c *Cursor) fill(p []byte) error {
	n, err := c.r.ReadAt(p, c.pos)
	if n < len(p) {
		if err == nil || errors.Is(err, io.EOF) {
			return &TruncatedReadError{Offset: c.pos, Want: len(p), Got: n}
		}
		return fmt.Errorf("reading at offset %d: %w", c.pos, err)
	}
	c.pos += int64(len(p))
	return nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, n, c.pos)
	}
	if n == 0 {
		return nil, nil
	}
	if n <= directReadLimit {
		p := make([]byte, n)
		if err := c.fill(p); err != nil {
			return nil, err
		}
		return p, nil
	}

	var buf bytes.Buffer
	buf.Grow(directReadLimit)
	got, err := buf.ReadFrom(io.NewSectionReader(c.r, c.pos, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("reading at offset %d: %w", c.pos, err)
	}
	if got < int64(n) {
		return nil, &TruncatedReadError{Offset: c.pos, Want: n, Got: int(got)}
	}
	c.pos += got
	return buf.Bytes(), nil
}

// ReadUint8 reads one byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	if err := c.fill(c.buf[:1]); err != nil {
		return 0, err
	}
	return c.buf[0], nil
}

// ReadInt8 reads one signed byte.
func (c *Cursor) ReadInt8() (int8, error) {
	v, err := c.ReadUint8()
	return int8(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadInt16 reads a signed 16-bit integer.
func (c *Cursor) ReadInt16() (int16, error) {
	if err := c.fill(c.buf[:2]); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(c.buf[:2])), nil //nolint:gosec // two's complement reinterpretation
}

// ReadInt32 reads a signed 32-bit integer.
func (c *Cursor) ReadInt32() (int32, error) {
	if err := c.fill(c.buf[:4]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(c.buf[:4])), nil //nolint:gosec // two's complement reinterpretation
}

// ReadInt64 reads a signed 64-bit integer.
func (c *Cursor) ReadInt64() (int64, error) {
	if err := c.fill(c.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(c.buf[:8])), nil //nolint:gosec // two's complement reinterpretation
}

// ReadFloat32Bits reads a 32-bit float and returns its raw bit pattern.
func (c *Cursor) ReadFloat32Bits() (uint32, error) {
	if err := c.fill(c.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(c.buf[:4]), nil
}

// ReadFloat32 reads an IEEE-754 single-precision float.
func (c *Cursor) ReadFloat32() (float32, error) {
	bits, err := c.ReadFloat32Bits()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadCString reads a NUL-terminated string and advances past the terminator.
// The terminator is not part of the result.
func (c *Cursor) ReadCString() (string, error) {
	start := c.pos
	var out []byte
	chunk := make([]byte, stringChunk)
	off := start
	for {
		n, err := c.r.ReadAt(chunk, off)
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			out = append(out, chunk[:i]...)
			c.pos = off + int64(i) + 1
			return string(out), nil
		}
		out = append(out, chunk[:n]...)
		off += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", &UnterminatedStringError{Offset: start}
			}
			return "", fmt.Errorf("reading string at offset %d: %w", start, err)
		}
		if n == 0 {
			return "", &UnterminatedStringError{Offset: start}
		}
	}
}
