package session

import (
	"bytes"
	"testing"

	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
	"github.com/danmuck/goscar/internal/protocol/tlv"
)

// pipe is an in-memory transport: reads drain in, writes append to out.
type pipe struct {
	in       bytes.Buffer
	out      bytes.Buffer
	writeErr error
	writes   int
	closed   bool
}

func (p *pipe) Read(b []byte) (int, error) {
	return p.in.Read(b)
}

func (p *pipe) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes++
	return p.out.Write(b)
}

func (p *pipe) Close() error {
	p.closed = true
	return nil
}

type stubModule struct {
	info        ModuleInfo
	claim       bool
	seen        []frame.SNACHeader
	bodies      [][]byte
	onSNAC      func(s *Session, fr *Frame, h frame.SNACHeader, payload *cursor.Cursor)
	shutdowns   int
	shutdownErr error
	trail       *[]string
}

func (m *stubModule) Info() ModuleInfo {
	return m.info
}

func (m *stubModule) HandleSNAC(s *Session, fr *Frame, h frame.SNACHeader, payload *cursor.Cursor) bool {
	m.seen = append(m.seen, h)
	m.bodies = append(m.bodies, append([]byte(nil), payload.Rest()...))
	if m.onSNAC != nil {
		m.onSNAC(s, fr, h, payload)
	}
	return m.claim
}

func (m *stubModule) Shutdown() error {
	m.shutdowns++
	if m.trail != nil {
		*m.trail = append(*m.trail, m.info.Name)
	}
	return m.shutdownErr
}

type closerData struct {
	closed bool
}

func (d *closerData) Close() error {
	d.closed = true
	return nil
}

func flapBytes(t *testing.T, channel uint8, seq uint16, payload []byte) []byte {
	t.Helper()
	b, err := frame.EncodeFrame(frame.Header{
		Kind: protocol.FramingStream,
		FLAP: frame.FLAPHeader{Channel: channel, Sequence: seq},
	}, payload)
	if err != nil {
		t.Fatalf("encode flap: %v", err)
	}
	return b
}

func snacPayload(t *testing.T, h frame.SNACHeader, body []byte) []byte {
	t.Helper()
	c := cursor.Make(frame.SNACHeaderLen + len(body))
	if err := frame.EncodeSNAC(c, h); err != nil {
		t.Fatalf("encode snac: %v", err)
	}
	if err := c.WriteBytes(body); err != nil {
		t.Fatalf("write body: %v", err)
	}
	return c.Bytes()
}

func streamHeader(channel uint8) frame.Header {
	return frame.Header{Kind: protocol.FramingStream, FLAP: frame.FLAPHeader{Channel: channel}}
}

func signOffPayload(t *testing.T, code uint16) []byte {
	t.Helper()
	var chain tlv.Chain
	chain.AppendU16(protocol.TLVErrorCode, code)
	b, err := chain.Bytes()
	if err != nil {
		t.Fatalf("encode chain: %v", err)
	}
	return b
}
