package session

import (
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
	"github.com/danmuck/goscar/internal/protocol/tlv"
	"github.com/danmuck/goscar/internal/testutil/testlog"
)

func TestLoginReplyTakesTransaction(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig(), WithClock(clock.NewMock()))
	p := &pipe{}
	c := s.NewConn(p, protocol.FramingStream, protocol.ConnAuth, WithReady())

	var taken []byte
	bucp := &stubModule{
		info:  ModuleInfo{Name: "bucp", Family: protocol.FamilyBUCP},
		claim: true,
		onSNAC: func(s *Session, _ *Frame, h frame.SNACHeader, _ *cursor.Cursor) {
			tx, ok := s.TakeTransaction(h.RequestID)
			require.True(t, ok)
			taken = tx.Data
		},
	}
	require.NoError(t, s.RegisterModule(bucp))

	id, err := s.SendSNAC(c, 0x17, 0x02, 0, []byte("login-ctx"), nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)
	require.Equal(t, 1, s.Transactions().Len())
	require.Equal(t, flapBytes(t, protocol.ChannelSNAC, 1,
		snacPayload(t, frame.SNACHeader{Family: 0x17, Subtype: 0x02, RequestID: 1}, nil)), p.out.Bytes())

	reply := snacPayload(t, frame.SNACHeader{Family: 0x17, Subtype: 0x02, Flags: 0, RequestID: 1}, nil)
	p.in.Write(flapBytes(t, protocol.ChannelSNAC, 1, reply))
	require.NoError(t, s.ReadFrom(c))
	require.Equal(t, 1, s.Dispatch())

	require.Equal(t, []byte("login-ctx"), taken)
	require.Equal(t, 0, s.Transactions().Len())
	require.Equal(t, 1, s.PurgeRx())
	require.Equal(t, 0, s.RxLen())
}

func TestPurgeKeepsUnhandledInOrder(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	f1 := s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil)
	f2 := s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil)
	f3 := s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil)
	f2.MarkHandled()

	require.Equal(t, 1, s.PurgeRx())
	require.Equal(t, []*Frame{f1, f3}, s.Pending())
	require.True(t, f2.Released())
	require.False(t, f1.Released())
	require.False(t, f3.Released())
}

func TestRetainedFrameOutlivesPurge(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	var kept *Frame
	require.NoError(t, c.Handlers().Add(protocol.FamilyICBM, 0x0007, func(_ *Session, fr *Frame, _ ...any) error {
		fr.Retain()
		kept = fr
		return nil
	}))
	payload := snacPayload(t, frame.SNACHeader{Family: protocol.FamilyICBM, Subtype: 0x0007, RequestID: 9}, []byte("msg"))
	s.Deliver(c, streamHeader(protocol.ChannelSNAC), payload)

	require.Equal(t, 1, s.Dispatch())
	require.Equal(t, 1, s.PurgeRx())
	require.NotNil(t, kept)
	require.False(t, kept.Released())
	require.Equal(t, []byte("msg"), kept.Payload.Rest())
	kept.Release()
	require.Nil(t, kept.Payload)
}

func TestUnclaimedSNACUsesHandlerChain(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	var global []any
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(_ *Session, _ *Frame, args ...any) error {
		global = args
		return nil
	}))
	var familyHits int
	require.NoError(t, c.Handlers().Add(protocol.FamilyBuddy, protocol.SubtypeDefault, func(*Session, *Frame, ...any) error {
		familyHits++
		return nil
	}))

	s.Deliver(c, streamHeader(protocol.ChannelSNAC),
		snacPayload(t, frame.SNACHeader{Family: protocol.FamilyICBM, Subtype: 0x0007}, nil))
	s.Deliver(c, streamHeader(protocol.ChannelSNAC),
		snacPayload(t, frame.SNACHeader{Family: protocol.FamilyBuddy, Subtype: 0x000b}, nil))
	require.Equal(t, 2, s.Dispatch())

	require.Equal(t, []any{protocol.FamilyICBM, uint16(0x0007)}, global)
	require.Equal(t, 1, familyHits)
}

func TestWildcardModulesSeeUnclaimedSNAC(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	owner := &stubModule{
		info: ModuleInfo{Name: "locate", Family: protocol.FamilyLocate},
		onSNAC: func(_ *Session, _ *Frame, _ frame.SNACHeader, payload *cursor.Cursor) {
			_ = payload.Advance(payload.Remaining())
		},
	}
	watcher := &stubModule{info: ModuleInfo{Name: "watch", Family: protocol.FamilySpecial, Wildcard: true}}
	claimer := &stubModule{info: ModuleInfo{Name: "claim", Family: protocol.FamilySpecial, Wildcard: true}, claim: true}
	late := &stubModule{info: ModuleInfo{Name: "late", Family: protocol.FamilySpecial, Wildcard: true}}
	for _, m := range []Module{owner, watcher, claimer, late} {
		require.NoError(t, s.RegisterModule(m))
	}
	unclaimed := 0
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(*Session, *Frame, ...any) error {
		unclaimed++
		return nil
	}))

	s.Deliver(c, streamHeader(protocol.ChannelSNAC),
		snacPayload(t, frame.SNACHeader{Family: protocol.FamilyLocate, Subtype: 0x0006}, []byte("body")))
	require.Equal(t, 1, s.Dispatch())

	require.Len(t, owner.seen, 1)
	require.Equal(t, [][]byte{[]byte("body")}, watcher.bodies)
	require.Equal(t, [][]byte{[]byte("body")}, claimer.bodies)
	require.Empty(t, late.seen)
	require.Equal(t, 0, unclaimed)
}

func TestSNACExtraInfoIsSkipped(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())
	m := &stubModule{info: ModuleInfo{Name: "icbm", Family: protocol.FamilyICBM}, claim: true}
	require.NoError(t, s.RegisterModule(m))

	body := []byte{0x00, 0x02, 0xaa, 0xbb, 'h', 'i'}
	s.Deliver(c, streamHeader(protocol.ChannelSNAC), snacPayload(t, frame.SNACHeader{
		Family:  protocol.FamilyICBM,
		Subtype: 0x0007,
		Flags:   protocol.SNACFlagExtraInfo,
	}, body))
	require.Equal(t, 1, s.Dispatch())
	require.Equal(t, [][]byte{[]byte("hi")}, m.bodies)
}

func TestSignOnMarksConnectionReady(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnAuth)
	require.Equal(t, ConnConnecting, c.State())

	completed := 0
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeConnComplete, func(*Session, *Frame, ...any) error {
		completed++
		return nil
	}))
	s.Deliver(c, streamHeader(protocol.ChannelSignOn), []byte{0, 0, 0, 1})
	s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil)
	require.Equal(t, 2, s.Dispatch())

	require.Equal(t, ConnReady, c.State())
	require.Equal(t, protocol.FlapVersion, c.FlapVersion())
	require.Equal(t, 1, completed)
	require.Equal(t, 2, s.PurgeRx())
}

func TestSignOffReachesConnErrHandler(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	var chain tlv.Chain
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeConnErr, func(_ *Session, _ *Frame, args ...any) error {
		require.Len(t, args, 1)
		chain = args[0].(tlv.Chain)
		return nil
	}))
	s.Deliver(c, streamHeader(protocol.ChannelSignOff), signOffPayload(t, 0x0001))
	require.Equal(t, 1, s.Dispatch())

	code, ok := chain.U16(protocol.TLVErrorCode, 1)
	require.True(t, ok)
	require.Equal(t, uint16(0x0001), code)
}

func TestKindMismatchIsDropped(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(*Session, *Frame, ...any) error {
		t.Fatalf("mismatched frame reached a handler")
		return nil
	}))

	fr := s.Deliver(c, frame.Header{
		Kind:       protocol.FramingRendezvous,
		Rendezvous: frame.RendezvousHeader{Magic: frame.MagicODC2, Subtype: 0x0006},
	}, nil)
	require.Equal(t, 1, s.Dispatch())
	require.True(t, fr.Handled())
	require.Equal(t, ConnReady, c.State())
}

func TestRendezvousFramesReachRendezvousHandler(t *testing.T) {
	testlog.Start(t)
	var got []uint16
	s := New(DefaultConfig(), WithRendezvousHandler(func(_ *Session, fr *Frame) bool {
		got = append(got, fr.Header.Rendezvous.Subtype)
		return fr.Header.Rendezvous.Subtype == 0x0006
	}))
	p := &pipe{}
	c := s.NewConn(p, protocol.FramingRendezvous, protocol.ConnRendezvous, WithReady())
	var unclaimed []any
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(_ *Session, _ *Frame, args ...any) error {
		unclaimed = args
		return nil
	}))

	for _, subtype := range []uint16{0x0006, 0x0001} {
		b, err := frame.EncodeFrame(frame.Header{
			Kind:       protocol.FramingRendezvous,
			Rendezvous: frame.RendezvousHeader{Magic: frame.MagicODC2, Subtype: subtype},
		}, []byte("typing"))
		require.NoError(t, err)
		p.in.Write(b)
		require.NoError(t, s.ReadFrom(c))
	}
	require.Equal(t, 2, s.Dispatch())
	require.Equal(t, []uint16{0x0006, 0x0001}, got)
	require.Equal(t, []any{protocol.FamilySpecial, uint16(0x0001)}, unclaimed)
}

func TestFramingErrorClosesConnection(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	p := &pipe{}
	c := s.NewConn(p, protocol.FramingStream, protocol.ConnBOS, WithReady())
	var reported error
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeConnErr, func(_ *Session, _ *Frame, args ...any) error {
		reported = args[0].(error)
		return nil
	}))
	s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil)

	p.in.Write([]byte{0x2b, 0x02, 0x00, 0x01, 0x00, 0x00})
	err := s.ReadFrom(c)
	require.ErrorIs(t, err, frame.ErrBadMarker)
	require.ErrorIs(t, reported, frame.ErrBadMarker)
	require.Equal(t, ConnClosed, c.State())
	require.True(t, p.closed)
	require.Equal(t, 0, s.RxLen())
	require.Equal(t, 0, c.Handlers().Len())
	require.Empty(t, s.Conns())
	require.ErrorIs(t, s.ReadFrom(c), ErrConnClosed)
}

func TestEndOfStreamClosesQuietly(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	p := &pipe{}
	c := s.NewConn(p, protocol.FramingStream, protocol.ConnBOS, WithReady())
	reported := false
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeConnErr, func(*Session, *Frame, ...any) error {
		reported = true
		return nil
	}))

	require.ErrorIs(t, s.ReadFrom(c), io.EOF)
	require.False(t, reported)
	require.Equal(t, ConnClosed, c.State())
}

func TestReceiveRateLimitStopsPassInOrder(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.RecvRateLimit = 1
	cfg.RecvBurst = 2
	s := New(cfg, WithClock(mock))
	c := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())

	frames := []*Frame{
		s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil),
		s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil),
		s.Deliver(c, streamHeader(protocol.ChannelKeepalive), nil),
	}
	require.Equal(t, 2, s.Dispatch())
	require.True(t, frames[0].Handled())
	require.True(t, frames[1].Handled())
	require.False(t, frames[2].Handled())
	require.Equal(t, 0, s.Dispatch())

	require.Equal(t, 2, s.PurgeRx())
	require.Equal(t, []*Frame{frames[2]}, s.Pending())

	mock.Add(time.Second)
	require.Equal(t, 1, s.Dispatch())
}

func TestModuleClosingConnectionDropsFrame(t *testing.T) {
	cases := []struct {
		name     string
		wildcard bool
	}{
		{name: "family owner"},
		{name: "wildcard", wildcard: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			s := New(DefaultConfig())
			p := &pipe{}
			c := s.NewConn(p, protocol.FramingStream, protocol.ConnBOS, WithReady())
			other := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnChat, WithReady())

			closer := &stubModule{
				info: ModuleInfo{Name: "closer", Family: protocol.FamilyICBM, Wildcard: tc.wildcard},
				onSNAC: func(s *Session, fr *Frame, _ frame.SNACHeader, _ *cursor.Cursor) {
					if fr.Conn == c {
						require.NoError(t, s.CloseConn(fr.Conn))
					}
				},
			}
			late := &stubModule{info: ModuleInfo{Name: "late", Family: protocol.FamilySpecial, Wildcard: true}}
			require.NoError(t, s.RegisterModule(closer))
			require.NoError(t, s.RegisterModule(late))
			otherUnclaimed := 0
			require.NoError(t, other.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(*Session, *Frame, ...any) error {
				otherUnclaimed++
				return nil
			}))

			body := snacPayload(t, frame.SNACHeader{Family: protocol.FamilyICBM, Subtype: 0x0007}, []byte("msg"))
			s.Deliver(c, streamHeader(protocol.ChannelSNAC), body)
			s.Deliver(c, streamHeader(protocol.ChannelSNAC), body)
			s.Deliver(other, streamHeader(protocol.ChannelSNAC), body)

			require.NotPanics(t, func() {
				require.Equal(t, 2, s.Dispatch())
			})
			require.Equal(t, ConnClosed, c.State())
			require.True(t, p.closed)
			require.Len(t, closer.seen, 2)
			require.Len(t, late.seen, 1)
			require.Equal(t, 1, otherUnclaimed)
			require.Equal(t, 1, s.RxLen())
			require.Equal(t, 1, s.PurgeRx())
		})
	}
}

func TestHandlerClosingOtherConnectionMidPass(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	a := s.NewConn(&pipe{}, protocol.FramingStream, protocol.ConnBOS, WithReady())
	bp := &pipe{}
	b := s.NewConn(bp, protocol.FramingStream, protocol.ConnChat, WithReady())

	var order []string
	require.NoError(t, a.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(s *Session, _ *Frame, _ ...any) error {
		order = append(order, "a")
		return s.CloseConn(b)
	}))
	require.NoError(t, b.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeDefault, func(*Session, *Frame, ...any) error {
		order = append(order, "b")
		return nil
	}))

	s.Deliver(a, streamHeader(protocol.ChannelError), nil)
	s.Deliver(b, streamHeader(protocol.ChannelError), nil)
	s.Deliver(a, streamHeader(protocol.ChannelError), nil)

	require.Equal(t, 2, s.Dispatch())
	require.Equal(t, []string{"a", "a"}, order)
	require.Equal(t, ConnClosed, b.State())
	require.True(t, bp.closed)
	require.Equal(t, 2, s.PurgeRx())
	require.Equal(t, 0, s.RxLen())
}

func TestSignOffBeforeEndOfStreamIsDispatched(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	p := &pipe{}
	c := s.NewConn(p, protocol.FramingStream, protocol.ConnBOS, WithReady())
	var code uint16
	require.NoError(t, c.Handlers().Add(protocol.FamilySpecial, protocol.SubtypeConnErr, func(_ *Session, _ *Frame, args ...any) error {
		chain := args[0].(tlv.Chain)
		code, _ = chain.U16(protocol.TLVErrorCode, 1)
		return nil
	}))

	p.in.Write(flapBytes(t, protocol.ChannelSignOff, 7, signOffPayload(t, 0x0018)))
	require.NoError(t, s.ReadFrom(c))
	require.ErrorIs(t, s.ReadFrom(c), io.EOF)

	require.Equal(t, uint16(0x0018), code)
	require.Equal(t, ConnClosed, c.State())
	require.Equal(t, 0, s.RxLen())
}
