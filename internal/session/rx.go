package session

import (
	"errors"
	"io"

	"go.uber.org/multierr"

	"github.com/danmuck/goscar/internal/observability"
	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
	"github.com/danmuck/goscar/internal/protocol/tlv"
)

// ReadFrom reads one frame from c and queues it. A framing error is fatal
// for the connection: it is reported to the ConnErr handler and c is
// closed. A clean end of stream closes c and returns io.EOF. In both cases
// frames already read from c are dispatched before it closes.
func (s *Session) ReadFrom(c *Conn) error {
	if c.state == ConnClosed {
		return ErrConnClosed
	}
	hdr, payload, err := frame.ReadFrame(c.rw, c.Kind, s.cfg.Limits)
	if err != nil {
		if n := s.drain(c); n > 0 {
			s.log.Debug().Stringer("conn", c).Int("frames", n).Msg("dispatched remaining frames before close")
		}
		if c.state == ConnClosed {
			return err
		}
		if errors.Is(err, io.EOF) {
			s.log.Debug().Stringer("conn", c).Msg("connection reached end of stream")
		} else {
			s.log.Warn().Err(err).Stringer("conn", c).Msg("framing error")
			s.reportConnErr(c, nil, err)
		}
		return multierr.Append(err, s.CloseConn(c))
	}
	s.Deliver(c, hdr, payload)
	return nil
}

// Deliver queues an already decoded frame as if it had been read from c.
func (s *Session) Deliver(c *Conn, hdr frame.Header, payload []byte) *Frame {
	fr := &Frame{
		Conn:    c,
		Kind:    hdr.Kind,
		Header:  hdr,
		Payload: cursor.New(payload),
	}
	s.rx = append(s.rx, fr)
	c.lastActivity = s.clock.Now()
	observability.RecordFrameReceived(hdr.Kind.String(), fr.ChannelOrSubtype())
	observability.SetQueueDepth("rx", len(s.rx))
	return fr
}

// Pending returns the receive queue in arrival order.
func (s *Session) Pending() []*Frame {
	out := make([]*Frame, len(s.rx))
	copy(out, s.rx)
	return out
}

func (s *Session) RxLen() int {
	return len(s.rx)
}

// Dispatch runs one pass over the receive queue and returns how many frames
// it dispatched. When the inbound rate limit is exhausted the pass stops
// early; the rest stay queued in order for the next pass.
func (s *Session) Dispatch() int {
	now := s.clock.Now()
	n := 0
	// Handlers may close connections, which compacts s.rx.
	for _, fr := range s.Pending() {
		if fr.handled || fr.released {
			continue
		}
		if s.limiter != nil && !s.limiter.AllowN(now, 1) {
			s.log.Debug().Int("dispatched", n).Msg("receive rate limit reached")
			break
		}
		s.dispatch(fr)
		fr.handled = true
		n++
	}
	return n
}

// drain dispatches c's queued frames in order, outside the rate limit.
func (s *Session) drain(c *Conn) int {
	n := 0
	for _, fr := range s.Pending() {
		if c.state == ConnClosed {
			break
		}
		if fr.Conn != c || fr.handled || fr.released {
			continue
		}
		s.dispatch(fr)
		fr.handled = true
		n++
	}
	return n
}

// PurgeRx removes handled frames, releasing every one not retained.
func (s *Session) PurgeRx() int {
	var n int
	s.rx, n = purgeHandled(s.rx)
	observability.SetQueueDepth("rx", len(s.rx))
	return n
}

func (s *Session) dispatch(fr *Frame) {
	c := fr.Conn
	if c == nil || c.state == ConnClosed {
		observability.RecordDispatch(observability.OutcomeDropped)
		return
	}
	if fr.Kind != c.Kind {
		s.log.Warn().
			Stringer("conn", c).
			Stringer("frame_kind", fr.Kind).
			Msg("framing kind does not match connection, dropping frame")
		observability.RecordDispatch(observability.OutcomeDropped)
		return
	}
	if fr.Kind == protocol.FramingRendezvous {
		s.dispatchRendezvous(fr)
		return
	}

	switch fr.Header.FLAP.Channel {
	case protocol.ChannelSignOn:
		s.dispatchSignOn(fr)
	case protocol.ChannelSNAC:
		s.dispatchSNAC(fr)
	case protocol.ChannelSignOff:
		s.dispatchSignOff(fr)
	case protocol.ChannelKeepalive:
		observability.RecordDispatch(observability.OutcomeCore)
	default:
		s.unclaimed(fr, protocol.FamilySpecial, uint16(fr.Header.FLAP.Channel))
	}
}

func (s *Session) dispatchSignOn(fr *Frame) {
	c := fr.Conn
	version, err := fr.Payload.ReadU32()
	if err != nil {
		s.log.Warn().Err(err).Stringer("conn", c).Msg("short sign-on frame")
		observability.RecordDispatch(observability.OutcomeDropped)
		return
	}
	c.flapVersion = version
	observability.RecordDispatch(observability.OutcomeCore)
	if err := s.MarkReady(c); err != nil {
		s.log.Warn().Err(err).Stringer("conn", c).Msg("conn complete handler failed")
	}
}

func (s *Session) dispatchSNAC(fr *Frame) {
	h, err := frame.DecodeSNAC(fr.Payload)
	if err == nil {
		err = frame.SkipSNACExtra(fr.Payload, h)
	}
	if err != nil {
		s.log.Warn().Err(err).Stringer("conn", fr.Conn).Msg("malformed snac, dropping frame")
		observability.RecordDispatch(observability.OutcomeDropped)
		return
	}
	start := fr.Payload.Position()

	if m, ok := s.modules.FindByFamily(h.Family); ok {
		if m.HandleSNAC(s, fr, h, fr.Payload) {
			observability.RecordDispatch(observability.OutcomeModule)
			return
		}
		if s.closedUnder(fr) {
			return
		}
	}
	for _, m := range s.modules.Wildcards() {
		if err := fr.Payload.Seek(start); err != nil {
			break
		}
		if m.HandleSNAC(s, fr, h, fr.Payload) {
			observability.RecordDispatch(observability.OutcomeWildcard)
			return
		}
		if s.closedUnder(fr) {
			return
		}
	}
	_ = fr.Payload.Seek(start)
	s.unclaimed(fr, h.Family, h.Subtype)
}

// closedUnder reports whether a module closed fr's connection, or
// released fr, without claiming it. Such a frame is dropped.
func (s *Session) closedUnder(fr *Frame) bool {
	if !fr.released && fr.Conn.state != ConnClosed {
		return false
	}
	s.log.Debug().Stringer("conn", fr.Conn).Msg("connection closed during dispatch, dropping frame")
	observability.RecordDispatch(observability.OutcomeDropped)
	return true
}

func (s *Session) dispatchSignOff(fr *Frame) {
	chain, err := tlv.Decode(fr.Payload)
	if err != nil {
		s.log.Warn().Err(err).Stringer("conn", fr.Conn).Msg("malformed sign-off chain")
		chain = nil
	}
	s.reportConnErr(fr.Conn, fr, chain)
}

func (s *Session) dispatchRendezvous(fr *Frame) {
	if s.rendezvous != nil && s.rendezvous(s, fr) {
		observability.RecordDispatch(observability.OutcomeModule)
		return
	}
	s.unclaimed(fr, protocol.FamilySpecial, fr.Header.Rendezvous.Subtype)
}

// unclaimed resolves (family, subtype) through the connection's handler
// chain, ending at the global default, with the pair as arguments.
func (s *Session) unclaimed(fr *Frame, family, subtype uint16) {
	found, err := fr.Conn.handlers.Call(s, fr, family, subtype, family, subtype)
	if err != nil {
		s.log.Warn().Err(err).
			Uint16("family", family).
			Uint16("subtype", subtype).
			Msg("handler failed")
	}
	if !found {
		s.log.Debug().
			Stringer("conn", fr.Conn).
			Uint16("family", family).
			Uint16("subtype", subtype).
			Msg("unclaimed frame")
		observability.RecordDispatch(observability.OutcomeUnclaimed)
		return
	}
	observability.RecordDispatch(observability.OutcomeHandler)
}

// reportConnErr hands arg (a tlv.Chain or an error) to the ConnErr handler.
func (s *Session) reportConnErr(c *Conn, fr *Frame, arg any) {
	found, err := c.handlers.Call(s, fr, protocol.FamilySpecial, protocol.SubtypeConnErr, arg)
	if err != nil {
		s.log.Warn().Err(err).Stringer("conn", c).Msg("conn error handler failed")
	}
	if found {
		observability.RecordDispatch(observability.OutcomeHandler)
		return
	}
	observability.RecordDispatch(observability.OutcomeUnclaimed)
}
