package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
)

const (
	Marker              byte = 0x2a
	FLAPHeaderLen            = 6
	RendezvousHeaderLen      = 8
	SNACHeaderLen            = 10
	MaxFLAPPayload           = 0xffff
)

var (
	ErrShortHeader         = errors.New("frame: short header")
	ErrBadMarker           = errors.New("frame: bad flap marker")
	ErrBadRendezvousLength = errors.New("frame: rendezvous length smaller than header")
	ErrBadMagic            = errors.New("frame: unexpected rendezvous magic")
	ErrPayloadTooLarge     = errors.New("frame: payload too large")
	ErrShortPayload        = errors.New("frame: short payload")
	ErrUnknownKind         = errors.New("frame: unknown framing kind")
)

var (
	MagicODC2 = [4]byte{'O', 'D', 'C', '2'}
	MagicOFT2 = [4]byte{'O', 'F', 'T', '2'}
)

// FLAPHeader is the 6-byte stream header without its marker.
type FLAPHeader struct {
	Channel    uint8
	Sequence   uint16
	PayloadLen uint16
}

// RendezvousHeader is the 8-byte direct-connection header.
type RendezvousHeader struct {
	Magic    [4]byte
	TotalLen uint16
	Subtype  uint16
}

// PayloadLen is the byte count following the header.
func (h RendezvousHeader) PayloadLen() int {
	return int(h.TotalLen) - RendezvousHeaderLen
}

// SNACHeader is the 10-byte transaction header at the start of a channel 2 payload.
type SNACHeader struct {
	Family    uint16
	Subtype   uint16
	Flags     uint16
	RequestID uint32
}

// Header is whichever physical header a frame carries.
type Header struct {
	Kind       protocol.FramingKind
	FLAP       FLAPHeader
	Rendezvous RendezvousHeader
}

// Len is the encoded header size for the kind.
func (h Header) Len() int {
	switch h.Kind {
	case protocol.FramingRendezvous:
		return RendezvousHeaderLen
	default:
		return FLAPHeaderLen
	}
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes int
	// RendezvousMagics, when non-empty, is the set of accepted magic tags.
	RendezvousMagics [][4]byte
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes:  MaxFLAPPayload,
		RendezvousMagics: [][4]byte{MagicODC2, MagicOFT2},
	}
}

func (l Limits) magicAllowed(m [4]byte) bool {
	if len(l.RendezvousMagics) == 0 {
		return true
	}
	for _, allowed := range l.RendezvousMagics {
		if allowed == m {
			return true
		}
	}
	return false
}

func DecodeFLAPHeader(c *cursor.Cursor) (FLAPHeader, error) {
	if c.Remaining() < FLAPHeaderLen {
		return FLAPHeader{}, ErrShortHeader
	}
	start := c.Position()
	marker, _ := c.ReadU8()
	if marker != Marker {
		_ = c.Seek(start)
		return FLAPHeader{}, fmt.Errorf("%w: 0x%02x", ErrBadMarker, marker)
	}
	var h FLAPHeader
	h.Channel, _ = c.ReadU8()
	h.Sequence, _ = c.ReadU16()
	h.PayloadLen, _ = c.ReadU16()
	return h, nil
}

func EncodeFLAPHeader(c *cursor.Cursor, h FLAPHeader) error {
	if c.Remaining() < FLAPHeaderLen {
		return ErrShortHeader
	}
	_ = c.WriteU8(Marker)
	_ = c.WriteU8(h.Channel)
	_ = c.WriteU16(h.Sequence)
	_ = c.WriteU16(h.PayloadLen)
	return nil
}

func DecodeRendezvousHeader(c *cursor.Cursor) (RendezvousHeader, error) {
	if c.Remaining() < RendezvousHeaderLen {
		return RendezvousHeader{}, ErrShortHeader
	}
	start := c.Position()
	var h RendezvousHeader
	magic, _ := c.ReadBytes(4)
	copy(h.Magic[:], magic)
	h.TotalLen, _ = c.ReadU16()
	h.Subtype, _ = c.ReadU16()
	if h.TotalLen < RendezvousHeaderLen {
		_ = c.Seek(start)
		return RendezvousHeader{}, fmt.Errorf("%w: %d", ErrBadRendezvousLength, h.TotalLen)
	}
	return h, nil
}

func EncodeRendezvousHeader(c *cursor.Cursor, h RendezvousHeader) error {
	if h.TotalLen < RendezvousHeaderLen {
		return fmt.Errorf("%w: %d", ErrBadRendezvousLength, h.TotalLen)
	}
	if c.Remaining() < RendezvousHeaderLen {
		return ErrShortHeader
	}
	_ = c.WriteBytes(h.Magic[:])
	_ = c.WriteU16(h.TotalLen)
	_ = c.WriteU16(h.Subtype)
	return nil
}

func DecodeSNAC(c *cursor.Cursor) (SNACHeader, error) {
	if c.Remaining() < SNACHeaderLen {
		return SNACHeader{}, ErrShortHeader
	}
	var h SNACHeader
	h.Family, _ = c.ReadU16()
	h.Subtype, _ = c.ReadU16()
	h.Flags, _ = c.ReadU16()
	h.RequestID, _ = c.ReadU32()
	return h, nil
}

func EncodeSNAC(c *cursor.Cursor, h SNACHeader) error {
	if c.Remaining() < SNACHeaderLen {
		return ErrShortHeader
	}
	_ = c.WriteU16(h.Family)
	_ = c.WriteU16(h.Subtype)
	_ = c.WriteU16(h.Flags)
	_ = c.WriteU32(h.RequestID)
	return nil
}

// SkipSNACExtra steps over the length-prefixed block that precedes the body
// when the 0x8000 flag is set.
func SkipSNACExtra(c *cursor.Cursor, h SNACHeader) error {
	if h.Flags&protocol.SNACFlagExtraInfo == 0 {
		return nil
	}
	start := c.Position()
	n, err := c.ReadU16()
	if err != nil {
		return err
	}
	if err := c.Advance(int(n)); err != nil {
		_ = c.Seek(start)
		return err
	}
	return nil
}

// ReadFrame reads one header and its payload of the given kind from r.
func ReadFrame(r io.Reader, kind protocol.FramingKind, limits Limits) (Header, []byte, error) {
	hdr := Header{Kind: kind}
	raw := make([]byte, hdr.Len())
	if _, err := io.ReadFull(r, raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, nil, ErrShortHeader
		}
		return Header{}, nil, err
	}

	var payloadLen int
	c := cursor.New(raw)
	switch kind {
	case protocol.FramingStream:
		h, err := DecodeFLAPHeader(c)
		if err != nil {
			return Header{}, nil, err
		}
		hdr.FLAP = h
		payloadLen = int(h.PayloadLen)
	case protocol.FramingRendezvous:
		h, err := DecodeRendezvousHeader(c)
		if err != nil {
			return Header{}, nil, err
		}
		if !limits.magicAllowed(h.Magic) {
			return Header{}, nil, fmt.Errorf("%w: %q", ErrBadMagic, string(h.Magic[:]))
		}
		hdr.Rendezvous = h
		payloadLen = h.PayloadLen()
	default:
		return Header{}, nil, ErrUnknownKind
	}

	if limits.MaxPayloadBytes > 0 && payloadLen > limits.MaxPayloadBytes {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrShortPayload, err)
		}
	}
	return hdr, payload, nil
}

// EncodeFrame renders header and payload into one buffer. Length fields
// are taken from the payload, not from hdr.
func EncodeFrame(hdr Header, payload []byte) ([]byte, error) {
	c := cursor.Make(hdr.Len() + len(payload))
	switch hdr.Kind {
	case protocol.FramingStream:
		if len(payload) > MaxFLAPPayload {
			return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(payload))
		}
		h := hdr.FLAP
		h.PayloadLen = uint16(len(payload))
		if err := EncodeFLAPHeader(c, h); err != nil {
			return nil, err
		}
	case protocol.FramingRendezvous:
		if len(payload)+RendezvousHeaderLen > 0xffff {
			return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(payload))
		}
		h := hdr.Rendezvous
		h.TotalLen = uint16(len(payload) + RendezvousHeaderLen)
		if err := EncodeRendezvousHeader(c, h); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownKind
	}
	if err := c.WriteBytes(payload); err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

// WriteFrame writes one encoded frame to w in a single call.
func WriteFrame(w io.Writer, hdr Header, payload []byte) error {
	b, err := EncodeFrame(hdr, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
