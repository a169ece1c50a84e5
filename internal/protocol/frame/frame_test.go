package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/tlv"
	"github.com/danmuck/goscar/internal/testutil/testlog"
)

func TestFLAPHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := cursor.Make(FLAPHeaderLen)
	in := FLAPHeader{Channel: 2, Sequence: 1, PayloadLen: 37}
	if err := EncodeFLAPHeader(c, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if c.Bytes()[0] != Marker {
		t.Fatalf("byte 0 = 0x%02x, want marker", c.Bytes()[0])
	}
	out, err := DecodeFLAPHeader(cursor.New(c.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
}

func TestFLAPBadMarkerIsCorruption(t *testing.T) {
	testlog.Start(t)
	c := cursor.New([]byte{0x2b, 2, 0, 1, 0, 0})
	_, err := DecodeFLAPHeader(c)
	if !errors.Is(err, ErrBadMarker) {
		t.Fatalf("expected ErrBadMarker, got %v", err)
	}
	if c.Position() != 0 {
		t.Fatalf("failed decode moved cursor")
	}
	if _, err := DecodeFLAPHeader(cursor.New([]byte{0x2a, 2})); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestRendezvousHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := RendezvousHeader{Magic: MagicODC2, TotalLen: 8 + 20, Subtype: 0x0006}
	c := cursor.Make(RendezvousHeaderLen)
	if err := EncodeRendezvousHeader(c, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(c.Bytes()[:4], []byte("ODC2")) {
		t.Fatalf("magic bytes: %q", c.Bytes()[:4])
	}
	out, err := DecodeRendezvousHeader(cursor.New(c.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in || out.PayloadLen() != 20 {
		t.Fatalf("header mismatch: got=%+v payload=%d", out, out.PayloadLen())
	}
}

func TestRendezvousLengthBelowHeader(t *testing.T) {
	testlog.Start(t)
	raw := []byte{'O', 'D', 'C', '2', 0, 4, 0, 1}
	if _, err := DecodeRendezvousHeader(cursor.New(raw)); !errors.Is(err, ErrBadRendezvousLength) {
		t.Fatalf("expected ErrBadRendezvousLength, got %v", err)
	}
	err := EncodeRendezvousHeader(cursor.Make(8), RendezvousHeader{Magic: MagicODC2, TotalLen: 3})
	if !errors.Is(err, ErrBadRendezvousLength) {
		t.Fatalf("expected ErrBadRendezvousLength on encode, got %v", err)
	}
}

func TestSNACHeaderAndExtraBlock(t *testing.T) {
	testlog.Start(t)
	c := cursor.Make(SNACHeaderLen + 2 + 3 + 1)
	in := SNACHeader{Family: 0x0017, Subtype: 0x0003, Flags: protocol.SNACFlagExtraInfo, RequestID: 7}
	if err := EncodeSNAC(c, in); err != nil {
		t.Fatalf("encode snac: %v", err)
	}
	_ = c.WriteU16(3)
	_ = c.WriteBytes([]byte{9, 9, 9})
	_ = c.WriteU8(0x42)

	r := cursor.New(c.Bytes())
	out, err := DecodeSNAC(r)
	if err != nil {
		t.Fatalf("decode snac: %v", err)
	}
	if out != in {
		t.Fatalf("snac mismatch: got=%+v want=%+v", out, in)
	}
	if err := SkipSNACExtra(r, out); err != nil {
		t.Fatalf("skip extra: %v", err)
	}
	if v, err := r.ReadU8(); err != nil || v != 0x42 {
		t.Fatalf("body after extra: %x %v", v, err)
	}

	plain := cursor.New([]byte{1, 2})
	if err := SkipSNACExtra(plain, SNACHeader{}); err != nil || plain.Position() != 0 {
		t.Fatalf("skip without flag moved cursor: %v", err)
	}
	if _, err := DecodeSNAC(cursor.New(make([]byte, 9))); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	var chain tlv.Chain
	_ = chain.AppendString(0x0001, "buddy")
	payload, _ := chain.Bytes()

	var buf bytes.Buffer
	hdr := Header{Kind: protocol.FramingStream, FLAP: FLAPHeader{Channel: protocol.ChannelSNAC, Sequence: 9}}
	if err := WriteFrame(&buf, hdr, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, body, err := ReadFrame(&buf, protocol.FramingStream, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.FLAP.Channel != protocol.ChannelSNAC || got.FLAP.Sequence != 9 || int(got.FLAP.PayloadLen) != len(payload) {
		t.Fatalf("header mismatch: %+v", got.FLAP)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch")
	}
	if _, _, err := ReadFrame(&buf, protocol.FramingStream, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF on drained reader, got %v", err)
	}
}

func TestReadRendezvousFrameChecksMagic(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	hdr := Header{Kind: protocol.FramingRendezvous, Rendezvous: RendezvousHeader{Magic: [4]byte{'X', 'X', 'X', 'X'}, Subtype: 1}}
	if err := WriteFrame(&buf, hdr, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := append([]byte(nil), buf.Bytes()...)
	if _, _, err := ReadFrame(&buf, protocol.FramingRendezvous, DefaultLimits()); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	got, body, err := ReadFrame(bytes.NewReader(raw), protocol.FramingRendezvous, Limits{})
	if err != nil {
		t.Fatalf("read with open magic set: %v", err)
	}
	if got.Rendezvous.TotalLen != 10 || string(body) != "hi" {
		t.Fatalf("unexpected frame: %+v %q", got.Rendezvous, body)
	}
}

func TestReadFrameLimitsAndTruncation(t *testing.T) {
	testlog.Start(t)
	hdr := cursor.Make(FLAPHeaderLen)
	_ = EncodeFLAPHeader(hdr, FLAPHeader{Channel: 2, Sequence: 1, PayloadLen: 100})
	_, _, err := ReadFrame(bytes.NewReader(hdr.Bytes()), protocol.FramingStream, Limits{MaxPayloadBytes: 10})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	short := append(append([]byte(nil), hdr.Bytes()...), 1, 2, 3)
	_, _, err = ReadFrame(bytes.NewReader(short), protocol.FramingStream, DefaultLimits())
	if !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	_, _, err = ReadFrame(bytes.NewReader([]byte{0x2a, 1}), protocol.FramingStream, DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}
