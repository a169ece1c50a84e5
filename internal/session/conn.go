package session

import (
	"fmt"
	"io"
	"time"

	"github.com/danmuck/goscar/internal/correlation"
	"github.com/danmuck/goscar/internal/protocol"
)

type ConnState uint8

const (
	// ConnConnecting connections have not finished their handshake;
	// outbound frames for them are always queued and never flushed.
	ConnConnecting ConnState = iota
	ConnReady
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnReady:
		return "ready"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", uint8(s))
	}
}

// Conn is one physical connection of a session.
type Conn struct {
	ID   uint64
	Kind protocol.FramingKind
	Type protocol.ConnType
	// ForcedLatency is the minimum gap between activity and the next
	// queued write on this connection.
	ForcedLatency time.Duration

	rw           io.ReadWriter
	parent       *Conn
	handlers     *Handlers
	cookies      *correlation.Cookies
	seq          uint16
	state        ConnState
	flapVersion  uint32
	lastActivity time.Time
}

type ConnOption func(*Conn)

// WithReady skips the handshake state, for connections the caller has
// already brought up.
func WithReady() ConnOption {
	return func(c *Conn) {
		c.state = ConnReady
	}
}

func WithForcedLatency(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.ForcedLatency = d
	}
}

// WithSequence sets the last used sequence number; the next stream frame
// gets seq+1.
func WithSequence(seq uint16) ConnOption {
	return func(c *Conn) {
		c.seq = seq
	}
}

func (c *Conn) Handlers() *Handlers {
	return c.handlers
}

func (c *Conn) Cookies() *correlation.Cookies {
	return c.cookies
}

func (c *Conn) State() ConnState {
	return c.state
}

func (c *Conn) Parent() *Conn {
	return c.parent
}

// FlapVersion is the version the peer sent on the sign-on channel.
func (c *Conn) FlapVersion() uint32 {
	return c.flapVersion
}

func (c *Conn) LastActivity() time.Time {
	return c.lastActivity
}

// Sequence is the last sequence number stamped on an outbound frame.
func (c *Conn) Sequence() uint16 {
	return c.seq
}

func (c *Conn) nextSeq() uint16 {
	c.seq++
	return c.seq
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn#%d(%s/%s)", c.ID, c.Type, c.Kind)
}
