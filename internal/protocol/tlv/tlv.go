package tlv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/goscar/internal/protocol/cursor"
)

// HeaderLen is the u16 type + u16 length prefix of every record.
const HeaderLen = 4

// MaxValueLen is the largest value a u16 length can describe.
const MaxValueLen = 0xffff

var (
	ErrShortHeader    = errors.New("tlv: short record header")
	ErrTruncatedValue = errors.New("tlv: declared length exceeds remaining bytes")
	ErrValueTooLarge  = errors.New("tlv: value exceeds 65535 bytes")
	ErrNoSpace        = errors.New("tlv: chain does not fit in buffer")
)

// TLV is one type-length-value record. The length is implied by Value.
type TLV struct {
	Type  uint16
	Value []byte
}

// Chain is an ordered list of records. Several records may share a type;
// lookups address them by 1-indexed occurrence.
type Chain []TLV

// Decode reads records until c is exhausted. A truncated header or value
// fails the whole chain and leaves c where it started.
func Decode(c *cursor.Cursor) (Chain, error) {
	return decode(c, -1)
}

// DecodeCount reads at most max records, for chains followed by more data.
func DecodeCount(c *cursor.Cursor, max int) (Chain, error) {
	if max < 0 {
		max = 0
	}
	return decode(c, max)
}

// DecodeLen reads records from exactly the next maxBytes of c.
func DecodeLen(c *cursor.Cursor, maxBytes int) (Chain, error) {
	if maxBytes < 0 || maxBytes > c.Remaining() {
		return nil, fmt.Errorf("%w: block of %d with %d remaining", ErrTruncatedValue, maxBytes, c.Remaining())
	}
	sub := cursor.New(c.Rest()[:maxBytes])
	chain, err := decode(sub, -1)
	if err != nil {
		return nil, err
	}
	_ = c.Advance(maxBytes)
	return chain, nil
}

func decode(c *cursor.Cursor, max int) (Chain, error) {
	start := c.Position()
	chain := make(Chain, 0, 4)
	for c.Remaining() > 0 && (max < 0 || len(chain) < max) {
		if c.Remaining() < HeaderLen {
			_ = c.Seek(start)
			return nil, ErrShortHeader
		}
		typ, _ := c.ReadU16()
		l, _ := c.ReadU16()
		val, err := c.ReadBytes(int(l))
		if err != nil {
			_ = c.Seek(start)
			return nil, fmt.Errorf("%w: type 0x%04x len %d", ErrTruncatedValue, typ, l)
		}
		chain = append(chain, TLV{Type: typ, Value: val})
	}
	return chain, nil
}

// Size is the encoded length of the chain.
func (ch Chain) Size() int {
	n := 0
	for _, t := range ch {
		n += HeaderLen + len(t.Value)
	}
	return n
}

// Encode writes every record in insertion order. Nothing is written when
// the chain does not fit.
func (ch Chain) Encode(c *cursor.Cursor) error {
	size := ch.Size()
	if size > c.Remaining() {
		return fmt.Errorf("%w: need %d have %d", ErrNoSpace, size, c.Remaining())
	}
	for _, t := range ch {
		if len(t.Value) > MaxValueLen {
			return fmt.Errorf("%w: type 0x%04x", ErrValueTooLarge, t.Type)
		}
	}
	for _, t := range ch {
		_ = c.WriteU16(t.Type)
		_ = c.WriteU16(uint16(len(t.Value)))
		_ = c.WriteBytes(t.Value)
	}
	return nil
}

// Bytes encodes the chain into a fresh buffer.
func (ch Chain) Bytes() ([]byte, error) {
	c := cursor.Make(ch.Size())
	if err := ch.Encode(c); err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

func (ch *Chain) AppendRaw(typ uint16, v []byte) error {
	if len(v) > MaxValueLen {
		return fmt.Errorf("%w: type 0x%04x", ErrValueTooLarge, typ)
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	*ch = append(*ch, TLV{Type: typ, Value: buf})
	return nil
}

func (ch *Chain) AppendU8(typ uint16, v uint8) {
	*ch = append(*ch, TLV{Type: typ, Value: []byte{v}})
}

func (ch *Chain) AppendU16(typ uint16, v uint16) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	*ch = append(*ch, TLV{Type: typ, Value: buf})
}

func (ch *Chain) AppendU32(typ uint16, v uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	*ch = append(*ch, TLV{Type: typ, Value: buf})
}

func (ch *Chain) AppendString(typ uint16, s string) error {
	return ch.AppendRaw(typ, []byte(s))
}

// AppendEmpty adds a zero-length marker record.
func (ch *Chain) AppendEmpty(typ uint16) {
	*ch = append(*ch, TLV{Type: typ, Value: []byte{}})
}

// AppendNested serializes inner now and stores it as one record, so later
// changes to inner do not affect ch.
func (ch *Chain) AppendNested(typ uint16, inner Chain) error {
	b, err := inner.Bytes()
	if err != nil {
		return err
	}
	if len(b) > MaxValueLen {
		return fmt.Errorf("%w: nested type 0x%04x", ErrValueTooLarge, typ)
	}
	*ch = append(*ch, TLV{Type: typ, Value: b})
	return nil
}

// Find returns the n-th (1-indexed) record of type typ.
func (ch Chain) Find(typ uint16, n int) (TLV, bool) {
	if n < 1 {
		return TLV{}, false
	}
	seen := 0
	for _, t := range ch {
		if t.Type != typ {
			continue
		}
		seen++
		if seen == n {
			return t, true
		}
	}
	return TLV{}, false
}

func (ch Chain) Has(typ uint16) bool {
	_, ok := ch.Find(typ, 1)
	return ok
}

func (ch Chain) Count(typ uint16) int {
	n := 0
	for _, t := range ch {
		if t.Type == typ {
			n++
		}
	}
	return n
}

func (ch Chain) String(typ uint16, n int) (string, bool) {
	t, ok := ch.Find(typ, n)
	if !ok {
		return "", false
	}
	return string(t.Value), true
}

func (ch Chain) U8(typ uint16, n int) (uint8, bool) {
	t, ok := ch.Find(typ, n)
	if !ok || len(t.Value) < 1 {
		return 0, false
	}
	return t.Value[0], true
}

func (ch Chain) U16(typ uint16, n int) (uint16, bool) {
	t, ok := ch.Find(typ, n)
	if !ok || len(t.Value) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(t.Value), true
}

func (ch Chain) U32(typ uint16, n int) (uint32, bool) {
	t, ok := ch.Find(typ, n)
	if !ok || len(t.Value) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(t.Value), true
}

// Nested decodes the value of the n-th record of typ as a chain.
func (ch Chain) Nested(typ uint16, n int) (Chain, bool, error) {
	t, ok := ch.Find(typ, n)
	if !ok {
		return nil, false, nil
	}
	inner, err := Decode(cursor.New(t.Value))
	if err != nil {
		return nil, true, err
	}
	return inner, true, nil
}

// Remove returns a copy of ch without any record of type typ.
func (ch Chain) Remove(typ uint16) Chain {
	out := make(Chain, 0, len(ch))
	for _, t := range ch {
		if t.Type != typ {
			out = append(out, t)
		}
	}
	return out
}

// Clone deep-copies the chain.
func (ch Chain) Clone() Chain {
	out := make(Chain, len(ch))
	for i, t := range ch {
		v := make([]byte, len(t.Value))
		copy(v, t.Value)
		out[i] = TLV{Type: t.Type, Value: v}
	}
	return out
}

// Equal reports whether a and b encode to identical bytes.
func Equal(a, b Chain) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || !bytes.Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
