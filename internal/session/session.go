package session

import (
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/danmuck/goscar/internal/correlation"
	"github.com/danmuck/goscar/internal/logging"
	"github.com/danmuck/goscar/internal/observability"
	"github.com/danmuck/goscar/internal/protocol"
)

// RendezvousHandler receives rendezvous frames. It reports whether it
// claimed the frame.
type RendezvousHandler func(s *Session, fr *Frame) bool

// Session is the explicit context every engine operation runs against.
//
// Frame queues and connections follow the caller's single loop. The
// transaction and module registries lock internally.
type Session struct {
	id    string
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	transactions *correlation.Transactions
	modules      *Modules
	limiter      *rate.Limiter
	rendezvous   RendezvousHandler

	mu     sync.Mutex
	conns  []*Conn
	nextID uint64

	rx []*Frame
	tx []*Frame
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

func WithRendezvousHandler(fn RendezvousHandler) Option {
	return func(s *Session) {
		s.rendezvous = fn
	}
}

func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		clock:   clock.New(),
		log:     logging.Component("session"),
		modules: NewModules(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	s.transactions = correlation.NewTransactions(
		correlation.WithClock(s.clock),
		correlation.WithBuckets(cfg.TransactionBuckets),
		correlation.WithEvictHook(func(tx correlation.Transaction) {
			s.log.Debug().
				Uint32("request_id", tx.ID).
				Uint16("family", tx.Family).
				Uint16("subtype", tx.Subtype).
				Msg("transaction expired")
		}),
	)
	if cfg.RecvRateLimit > 0 {
		burst := cfg.RecvBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RecvRateLimit), burst)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) Clock() clock.Clock {
	return s.clock
}

func (s *Session) Logger() zerolog.Logger {
	return s.log
}

func (s *Session) Transactions() *correlation.Transactions {
	return s.transactions
}

func (s *Session) Modules() *Modules {
	return s.modules
}

// RegisterModule is Modules().Register with logging.
func (s *Session) RegisterModule(m Module) error {
	info := m.Info()
	if err := s.modules.Register(m); err != nil {
		s.log.Warn().Err(err).Str("module", info.Name).Msg("module rejected")
		return err
	}
	s.log.Debug().
		Str("module", info.Name).
		Uint16("family", info.Family).
		Bool("wildcard", info.Wildcard).
		Msg("module registered")
	return nil
}

// RegisterTransaction records an outstanding request and returns its id.
func (s *Session) RegisterTransaction(family, subtype, flags uint16, data []byte) uint32 {
	id := s.transactions.Register(family, subtype, flags, data)
	observability.RecordTransaction("registered", 1)
	return id
}

// TakeTransaction consumes the request matching a reply's id.
func (s *Session) TakeTransaction(id uint32) (correlation.Transaction, bool) {
	tx, ok := s.transactions.Take(id)
	if ok {
		observability.RecordTransaction("taken", 1)
	}
	return tx, ok
}

// Sweep expires transactions older than Config.TransactionMaxAge.
func (s *Session) Sweep() int {
	n := s.transactions.Sweep(s.cfg.TransactionMaxAge)
	if n > 0 {
		observability.RecordTransaction("swept", n)
		s.log.Debug().Int("count", n).Msg("transactions swept")
	}
	return n
}

// NewConn registers a connection over rw. Stream connections start in
// ConnConnecting until the peer's FLAP version arrives. Rendezvous
// connections have no sign-on frame and start ready.
func (s *Session) NewConn(rw io.ReadWriter, kind protocol.FramingKind, typ protocol.ConnType, opts ...ConnOption) *Conn {
	state := ConnConnecting
	if kind == protocol.FramingRendezvous {
		state = ConnReady
	}
	s.mu.Lock()
	s.nextID++
	c := &Conn{
		ID:            s.nextID,
		Kind:          kind,
		Type:          typ,
		ForcedLatency: s.cfg.ForcedLatency,
		rw:            rw,
		handlers:      NewHandlers(),
		state:         state,
	}
	c.cookies = correlation.NewCookies(s.cfg.CookieCapacity, s.releaseCookie)
	for _, opt := range opts {
		opt(c)
	}
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	s.log.Debug().Stringer("conn", c).Stringer("state", c.state).Msg("connection opened")
	return c
}

// DeriveConn opens a connection that inherits parent's handlers.
func (s *Session) DeriveConn(parent *Conn, rw io.ReadWriter, kind protocol.FramingKind, typ protocol.ConnType, opts ...ConnOption) *Conn {
	c := s.NewConn(rw, kind, typ, opts...)
	c.parent = parent
	parent.handlers.CloneInto(c.handlers)
	return c
}

func (s *Session) releaseCookie(ck correlation.Cookie) {
	if closer, ok := ck.Data.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.log.Warn().Err(err).Stringer("token", ck.Token).Msg("cookie cleanup failed")
		}
	}
}

// Conns returns the open connections in creation order.
func (s *Session) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// FindConn returns the first open connection of typ.
func (s *Session) FindConn(typ protocol.ConnType) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.Type == typ {
			return c, true
		}
	}
	return nil, false
}

// MarkReady ends the handshake state and fires the ConnComplete handler.
// Under TxImmediate, frames queued during the handshake are written first
// so they keep their order ahead of anything sent from then on.
func (s *Session) MarkReady(c *Conn) error {
	if c.state != ConnConnecting {
		return nil
	}
	c.state = ConnReady
	s.log.Debug().Stringer("conn", c).Msg("connection ready")
	var errs error
	if s.cfg.TxPolicy == TxImmediate {
		errs = s.flush(c, false)
		s.PurgeTx()
	}
	if c.state == ConnClosed {
		return errs
	}
	_, err := c.handlers.Call(s, nil, protocol.FamilySpecial, protocol.SubtypeConnComplete)
	return multierr.Append(errs, err)
}

// CloseConn drops every queued frame for c, clears its handlers, releases
// its cookies and closes the transport.
func (s *Session) CloseConn(c *Conn) error {
	if c.state == ConnClosed {
		return nil
	}
	c.state = ConnClosed

	s.rx = purgeConn(s.rx, c)
	s.tx = purgeConn(s.tx, c)
	observability.SetQueueDepth("rx", len(s.rx))
	observability.SetQueueDepth("tx", len(s.tx))
	c.handlers.Clear()
	released := c.cookies.ReleaseAll()

	s.mu.Lock()
	for i, open := range s.conns {
		if open == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.log.Debug().Stringer("conn", c).Int("cookies_released", released).Msg("connection closed")
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Close closes every connection and shuts the module registry down.
func (s *Session) Close() error {
	var errs error
	for _, c := range s.Conns() {
		errs = multierr.Append(errs, s.CloseConn(c))
	}
	errs = multierr.Append(errs, s.modules.ShutdownAll())
	s.log.Debug().Msg("session closed")
	return errs
}

// purgeConn removes frames for c, releasing those the queue still owns.
func purgeConn(queue []*Frame, c *Conn) []*Frame {
	kept := queue[:0]
	for _, fr := range queue {
		if fr.Conn != c {
			kept = append(kept, fr)
			continue
		}
		if !fr.retained {
			fr.Release()
		}
	}
	clear(queue[len(kept):])
	return kept
}

// purgeHandled removes handled frames and returns how many were removed.
func purgeHandled(queue []*Frame) ([]*Frame, int) {
	kept := queue[:0]
	for _, fr := range queue {
		if !fr.handled {
			kept = append(kept, fr)
			continue
		}
		if !fr.retained {
			fr.Release()
		}
	}
	n := len(queue) - len(kept)
	clear(queue[len(kept):])
	return kept, n
}
