package correlation

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/danmuck/goscar/internal/observability"
	"github.com/danmuck/goscar/internal/protocol"
)

// Cookie lifecycle events as counted in goscar_correlation_cookies_total.
const (
	CookieRegistered = "registered"
	CookieTaken      = "taken"
	CookieEvicted    = "evicted"
	CookieReleased   = "released"
)

// TokenLen is the size of a rendezvous cookie.
const TokenLen = 8

// DefaultCookieCapacity bounds how many unanswered cookies a connection keeps.
const DefaultCookieCapacity = 256

var ErrTokenSource = errors.New("correlation: token source failed")

type Token [TokenLen]byte

func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// Cookie is one outstanding rendezvous exchange.
type Cookie struct {
	Token Token
	Type  protocol.CookieType
	Data  any
}

type cookieKey struct {
	token Token
	typ   protocol.CookieType
}

type cookieEntry struct {
	cookie Cookie
	taken  bool
}

// Cookies maps token+type to caller context. Each cookie is consumed once;
// anything never consumed is released through the hook when it is evicted,
// replaced, or dropped by ReleaseAll.
type Cookies struct {
	mu        sync.Mutex
	cache     *lru.Cache[cookieKey, *cookieEntry]
	onRelease func(Cookie)
	purging   bool
}

// NewCookies builds a registry holding at most capacity cookies. onRelease
// may be nil.
func NewCookies(capacity int, onRelease func(Cookie)) *Cookies {
	if capacity <= 0 {
		capacity = DefaultCookieCapacity
	}
	c := &Cookies{onRelease: onRelease}
	cache, err := lru.NewWithEvict[cookieKey, *cookieEntry](capacity, c.evicted)
	if err != nil {
		// only fails for a non-positive size, excluded above
		panic(err)
	}
	c.cache = cache
	return c
}

// evicted runs under c.mu for capacity evictions, Take and ReleaseAll.
func (c *Cookies) evicted(_ cookieKey, e *cookieEntry) {
	if e.taken {
		return
	}
	if c.purging {
		observability.RecordCookie(CookieReleased)
	} else {
		observability.RecordCookie(CookieEvicted)
	}
	if c.onRelease != nil {
		c.onRelease(e.cookie)
	}
}

// NewToken returns 8 random bytes.
func NewToken() (Token, error) {
	var t Token
	if _, err := rand.Read(t[:]); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenSource, err)
	}
	return t, nil
}

// Register stores data under token+typ, releasing any previous entry with
// the same key.
func (c *Cookies) Register(token Token, typ protocol.CookieType, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cookieKey{token: token, typ: typ}
	old, replaced := c.cache.Peek(key)
	c.cache.Add(key, &cookieEntry{cookie: Cookie{Token: token, Type: typ, Data: data}})
	observability.RecordCookie(CookieRegistered)
	if replaced && !old.taken {
		observability.RecordCookie(CookieReleased)
		if c.onRelease != nil {
			c.onRelease(old.cookie)
		}
	}
}

// Issue generates a token and registers data under it.
func (c *Cookies) Issue(typ protocol.CookieType, data any) (Token, error) {
	token, err := NewToken()
	if err != nil {
		return Token{}, err
	}
	c.Register(token, typ, data)
	return token, nil
}

// Take consumes the cookie matching token and typ exactly.
func (c *Cookies) Take(token Token, typ protocol.CookieType) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cookieKey{token: token, typ: typ}
	e, ok := c.cache.Peek(key)
	if !ok {
		return nil, false
	}
	e.taken = true
	c.cache.Remove(key)
	observability.RecordCookie(CookieTaken)
	return e.cookie.Data, true
}

// Peek reports the cookie without consuming it.
func (c *Cookies) Peek(token Token, typ protocol.CookieType) (Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Peek(cookieKey{token: token, typ: typ})
	if !ok {
		return Cookie{}, false
	}
	return e.cookie, true
}

// ReleaseAll drops every cookie, running the release hook for each.
func (c *Cookies) ReleaseAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.cache.Len()
	c.purging = true
	c.cache.Purge()
	c.purging = false
	return n
}

func (c *Cookies) Len() int {
	return c.cache.Len()
}
