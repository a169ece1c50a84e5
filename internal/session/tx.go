package session

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/danmuck/goscar/internal/observability"
	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
)

// NewFrame allocates an outbound frame for c with room for capacity
// payload bytes. channelOrSubtype is the FLAP channel for stream frames and
// the header subtype for rendezvous frames.
func (s *Session) NewFrame(c *Conn, kind protocol.FramingKind, channelOrSubtype uint16, capacity int) (*Frame, error) {
	if c == nil || c.state == ConnClosed {
		return nil, ErrConnClosed
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: negative capacity %d", ErrFrameTooLarge, capacity)
	}
	if limit := s.cfg.Limits.MaxPayloadBytes; limit > 0 && capacity > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, capacity, limit)
	}

	hdr := frame.Header{Kind: kind}
	switch kind {
	case protocol.FramingStream:
		if channelOrSubtype > 0xff {
			return nil, fmt.Errorf("%w: %d", ErrBadChannel, channelOrSubtype)
		}
		if capacity > frame.MaxFLAPPayload {
			return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, capacity)
		}
		hdr.FLAP.Channel = uint8(channelOrSubtype)
	case protocol.FramingRendezvous:
		if capacity > 0xffff-frame.RendezvousHeaderLen {
			return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, capacity)
		}
		hdr.Rendezvous.Magic = frame.MagicODC2
		if magics := s.cfg.Limits.RendezvousMagics; len(magics) > 0 {
			hdr.Rendezvous.Magic = magics[0]
		}
		hdr.Rendezvous.Subtype = channelOrSubtype
	default:
		return nil, frame.ErrUnknownKind
	}

	return &Frame{
		Conn:    c,
		Kind:    kind,
		Header:  hdr,
		Payload: cursor.Make(capacity),
	}, nil
}

// Enqueue stamps the sequence number and hands fr to the transmit path.
// Under TxImmediate a ready connection is written synchronously and the
// frame is released; otherwise, and always for a connection still
// connecting, the frame waits for Flush.
func (s *Session) Enqueue(fr *Frame) error {
	if fr.released {
		return ErrFrameReleased
	}
	c := fr.Conn
	if c == nil || c.state == ConnClosed {
		fr.Release()
		return ErrConnClosed
	}
	if fr.Kind == protocol.FramingStream {
		fr.Header.FLAP.Sequence = c.nextSeq()
	}

	if s.cfg.TxPolicy == TxQueued || c.state == ConnConnecting {
		s.tx = append(s.tx, fr)
		observability.SetQueueDepth("tx", len(s.tx))
		return nil
	}

	err := s.write(fr)
	fr.Release()
	return err
}

// Flush writes queued frames in order. Frames for connecting connections
// are skipped, as is any frame whose connection saw activity less than its
// ForcedLatency ago. Written frames are purged; write errors are reported
// to the connection's ConnErr handler and returned together.
func (s *Session) Flush() error {
	errs := s.flush(nil, true)
	s.PurgeTx()
	return errs
}

// flush writes queued frames, only those for conn when conn is non-nil.
// A ConnErr handler may close connections, which compacts s.tx.
func (s *Session) flush(conn *Conn, paced bool) error {
	var errs error
	queue := make([]*Frame, len(s.tx))
	copy(queue, s.tx)
	for _, fr := range queue {
		if fr.handled || fr.released {
			continue
		}
		c := fr.Conn
		if conn != nil && c != conn {
			continue
		}
		switch c.state {
		case ConnConnecting:
			continue
		case ConnClosed:
			fr.handled = true
			continue
		}
		if paced && c.ForcedLatency > 0 && s.clock.Now().Before(c.lastActivity.Add(c.ForcedLatency)) {
			continue
		}
		if err := s.write(fr); err != nil {
			errs = multierr.Append(errs, err)
		}
		fr.handled = true
	}
	return errs
}

// PurgeTx removes handled frames from the transmit queue.
func (s *Session) PurgeTx() int {
	var n int
	s.tx, n = purgeHandled(s.tx)
	observability.SetQueueDepth("tx", len(s.tx))
	return n
}

func (s *Session) TxLen() int {
	return len(s.tx)
}

func (s *Session) write(fr *Frame) error {
	c := fr.Conn
	if err := frame.WriteFrame(c.rw, fr.Header, fr.Bytes()); err != nil {
		err = fmt.Errorf("write %s: %w", c, err)
		s.log.Warn().Err(err).Msg("write failed")
		s.reportConnErr(c, fr, err)
		return err
	}
	c.lastActivity = s.clock.Now()
	observability.RecordFrameSent(fr.Kind.String(), fr.ChannelOrSubtype())
	return nil
}

// SendFLAP sends payload on a stream channel.
func (s *Session) SendFLAP(c *Conn, channel uint8, payload []byte) error {
	fr, err := s.NewFrame(c, protocol.FramingStream, uint16(channel), len(payload))
	if err != nil {
		return err
	}
	if err := fr.Payload.WriteBytes(payload); err != nil {
		return err
	}
	return s.Enqueue(fr)
}

// SendSNAC registers a transaction carrying data, then sends body under a
// SNAC header with the new request id.
func (s *Session) SendSNAC(c *Conn, family, subtype, flags uint16, data, body []byte) (uint32, error) {
	fr, err := s.NewFrame(c, protocol.FramingStream, uint16(protocol.ChannelSNAC), frame.SNACHeaderLen+len(body))
	if err != nil {
		return 0, err
	}
	id := s.RegisterTransaction(family, subtype, flags, data)
	h := frame.SNACHeader{Family: family, Subtype: subtype, Flags: flags, RequestID: id}
	if err := frame.EncodeSNAC(fr.Payload, h); err != nil {
		return id, err
	}
	if err := fr.Payload.WriteBytes(body); err != nil {
		return id, err
	}
	return id, s.Enqueue(fr)
}

// SendRendezvous sends payload on a rendezvous connection.
func (s *Session) SendRendezvous(c *Conn, subtype uint16, payload []byte) error {
	fr, err := s.NewFrame(c, protocol.FramingRendezvous, subtype, len(payload))
	if err != nil {
		return err
	}
	if err := fr.Payload.WriteBytes(payload); err != nil {
		return err
	}
	return s.Enqueue(fr)
}

// SendKeepalive sends an empty keepalive frame.
func (s *Session) SendKeepalive(c *Conn) error {
	return s.SendFLAP(c, protocol.ChannelKeepalive, nil)
}
