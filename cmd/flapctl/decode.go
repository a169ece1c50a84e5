package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/danmuck/goscar/internal/config"
	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
	"github.com/danmuck/goscar/internal/protocol/tlv"
	"github.com/danmuck/goscar/internal/session"
	"github.com/danmuck/goscar/internal/session/trace"
)

type frameRow struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Channel   uint16 `json:"channel"`
	Sequence  uint16 `json:"sequence"`
	Length    int    `json:"length"`
	Family    uint16 `json:"family,omitempty"`
	Subtype   uint16 `json:"subtype,omitempty"`
	Flags     uint16 `json:"flags,omitempty"`
	RequestID uint32 `json:"request_id,omitempty"`
	SNAC      bool   `json:"snac"`
}

type report struct {
	SessionID   string        `json:"session_id"`
	Frames      []frameRow    `json:"frames"`
	Counts      []trace.Count `json:"counts"`
	Unclaimed   int           `json:"unclaimed"`
	FlapVersion uint32        `json:"flap_version"`
	SignOffCode uint16        `json:"signoff_code,omitempty"`
	Err         string        `json:"error,omitempty"`
}

// readOnly feeds a capture to the engine; writes are discarded.
type readOnly struct {
	io.Reader
}

func (readOnly) Write(b []byte) (int, error) {
	return len(b), nil
}

func readInput(r io.Reader, format string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format != "hex" {
		return data, nil
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(data))
	out, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("decode hex input: %w", err)
	}
	return out, nil
}

// decodeCapture replays a captured server stream through a session and
// reports every frame it read. A framing error ends the replay and is
// returned along with the frames read before it.
func decodeCapture(data []byte, eng config.Engine, framing protocol.FramingKind) (*report, error) {
	s := session.New(eng.Session)
	defer s.Close()

	tr := trace.New()
	if err := s.RegisterModule(tr); err != nil {
		return nil, err
	}

	rep := &report{SessionID: s.ID()}
	c := s.NewConn(readOnly{bytes.NewReader(data)}, framing, protocol.ConnBOS)
	h := c.Handlers()
	if err := h.Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(*session.Session, *session.Frame, ...any) error {
		rep.Unclaimed++
		return nil
	}); err != nil {
		return nil, err
	}
	if err := h.Add(protocol.FamilySpecial, protocol.SubtypeConnErr, func(_ *session.Session, _ *session.Frame, args ...any) error {
		if len(args) == 0 {
			return nil
		}
		if chain, ok := args[0].(tlv.Chain); ok {
			rep.SignOffCode, _ = chain.U16(protocol.TLVErrorCode, 1)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var readErr error
	for {
		err := s.ReadFrom(c)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			rep.Err = err.Error()
			break
		}
		pending := s.Pending()
		rep.Frames = append(rep.Frames, describe(len(rep.Frames)+1, pending[len(pending)-1]))
		s.Dispatch()
		s.PurgeRx()
	}
	rep.FlapVersion = c.FlapVersion()
	rep.Counts = tr.Counts()
	return rep, readErr
}

func describe(index int, fr *session.Frame) frameRow {
	row := frameRow{
		Index:   index,
		Kind:    fr.Kind.String(),
		Channel: fr.ChannelOrSubtype(),
		Length:  len(fr.Payload.Buffer()),
	}
	if fr.Kind != protocol.FramingStream {
		return row
	}
	row.Sequence = fr.Header.FLAP.Sequence
	if fr.Header.FLAP.Channel != protocol.ChannelSNAC {
		return row
	}
	h, err := frame.DecodeSNAC(cursor.New(fr.Payload.Buffer()))
	if err != nil {
		return row
	}
	row.SNAC = true
	row.Family = h.Family
	row.Subtype = h.Subtype
	row.Flags = h.Flags
	row.RequestID = h.RequestID
	return row
}
