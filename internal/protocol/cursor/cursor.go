// Package cursor provides a bounds-checked, position-tracked view over a byte
// buffer. Every read or write of N bytes fails with ErrShortBuffer when fewer
// than N bytes remain, and a failed operation never moves the offset.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortBuffer = errors.New("cursor: short buffer")
	ErrSeekRange   = errors.New("cursor: seek out of range")
	ErrNegative    = errors.New("cursor: negative length")
)

// Cursor reads and writes a fixed buffer at a moving offset.
type Cursor struct {
	buf []byte
	off int
}

// New wraps buf; the cursor never grows or reallocates it.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Make allocates a zeroed buffer of n bytes for writing.
func Make(n int) *Cursor {
	if n < 0 {
		n = 0
	}
	return &Cursor{buf: make([]byte, n)}
}

func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Position() int  { return c.off }
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Seek moves the offset to an absolute position.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: %d of %d", ErrSeekRange, off, len(c.buf))
	}
	c.off = off
	return nil
}

// Rewind is Seek(0).
func (c *Cursor) Rewind() {
	c.off = 0
}

// Advance skips n bytes.
func (c *Cursor) Advance(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

// Bytes returns the consumed or written prefix buf[:Position()].
func (c *Cursor) Bytes() []byte {
	return c.buf[:c.off]
}

// Rest returns the unread suffix without copying.
func (c *Cursor) Rest() []byte {
	return c.buf[c.off:]
}

// Buffer returns the whole underlying buffer.
func (c *Cursor) Buffer() []byte {
	return c.buf
}

func (c *Cursor) need(n int) error {
	if n < 0 {
		return ErrNegative
	}
	if len(c.buf)-c.off < n {
		return fmt.Errorf("%w: need %d have %d", ErrShortBuffer, n, len(c.buf)-c.off)
	}
	return nil
}

func (c *Cursor) take(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) ReadU16LE() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) ReadU32LE() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadBytes returns a copy of the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	b, err := c.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (c *Cursor) ReadString(n int) (string, error) {
	b, err := c.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadU8Prefixed reads a string preceded by a one byte length, the layout
// used for screen names. The offset is unchanged if either part is short.
func (c *Cursor) ReadU8Prefixed() (string, error) {
	start := c.off
	n, err := c.ReadU8()
	if err != nil {
		return "", err
	}
	s, err := c.ReadString(int(n))
	if err != nil {
		c.off = start
		return "", err
	}
	return s, nil
}

// ReadU16Prefixed reads a string preceded by a big-endian u16 length.
func (c *Cursor) ReadU16Prefixed() (string, error) {
	start := c.off
	n, err := c.ReadU16()
	if err != nil {
		return "", err
	}
	s, err := c.ReadString(int(n))
	if err != nil {
		c.off = start
		return "", err
	}
	return s, nil
}

func (c *Cursor) WriteU8(v uint8) error {
	b, err := c.take(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (c *Cursor) WriteU16(v uint16) error {
	b, err := c.take(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (c *Cursor) WriteU32(v uint32) error {
	b, err := c.take(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (c *Cursor) WriteU16LE(v uint16) error {
	b, err := c.take(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

func (c *Cursor) WriteU32LE(v uint32) error {
	b, err := c.take(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (c *Cursor) WriteBytes(v []byte) error {
	b, err := c.take(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

func (c *Cursor) WriteString(s string) error {
	b, err := c.take(len(s))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

// WriteU8Prefixed writes len(s) as one byte followed by s.
func (c *Cursor) WriteU8Prefixed(s string) error {
	if len(s) > 0xff {
		return fmt.Errorf("cursor: string too long for u8 prefix: %d", len(s))
	}
	if err := c.need(1 + len(s)); err != nil {
		return err
	}
	_ = c.WriteU8(uint8(len(s)))
	return c.WriteString(s)
}

// WriteU16Prefixed writes len(s) as a big-endian u16 followed by s.
func (c *Cursor) WriteU16Prefixed(s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("cursor: string too long for u16 prefix: %d", len(s))
	}
	if err := c.need(2 + len(s)); err != nil {
		return err
	}
	_ = c.WriteU16(uint16(len(s)))
	return c.WriteString(s)
}

// CopyFrom moves n bytes from src into c, advancing both. Nothing moves
// unless both cursors have room.
func (c *Cursor) CopyFrom(src *Cursor, n int) error {
	if err := src.need(n); err != nil {
		return err
	}
	if err := c.need(n); err != nil {
		return err
	}
	copy(c.buf[c.off:c.off+n], src.buf[src.off:src.off+n])
	c.off += n
	src.off += n
	return nil
}
