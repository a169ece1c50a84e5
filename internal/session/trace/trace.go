// Package trace provides a wildcard module that logs and counts every SNAC
// no family module claimed. It never claims a frame itself, so unclaimed
// handlers still run after it.
package trace

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/goscar/internal/logging"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
	"github.com/danmuck/goscar/internal/session"
)

const Name = "trace"

// Key identifies one (family, subtype) pair.
type Key struct {
	Family  uint16
	Subtype uint16
}

// Count is the number of SNACs seen for a pair.
type Count struct {
	Key
	Frames int
	Bytes  int
}

type Module struct {
	mu     sync.Mutex
	log    zerolog.Logger
	counts map[Key]*Count
}

func New() *Module {
	return &Module{
		log:    logging.Component(Name),
		counts: make(map[Key]*Count),
	}
}

func (m *Module) Info() session.ModuleInfo {
	return session.ModuleInfo{Name: Name, Family: 0xffff, Wildcard: true}
}

func (m *Module) HandleSNAC(s *session.Session, fr *session.Frame, h frame.SNACHeader, payload *cursor.Cursor) bool {
	m.mu.Lock()
	key := Key{Family: h.Family, Subtype: h.Subtype}
	c, ok := m.counts[key]
	if !ok {
		c = &Count{Key: key}
		m.counts[key] = c
	}
	c.Frames++
	c.Bytes += payload.Remaining()
	m.mu.Unlock()

	m.log.Debug().
		Str("session", s.ID()).
		Stringer("conn", fr.Conn).
		Uint16("family", h.Family).
		Uint16("subtype", h.Subtype).
		Uint16("flags", h.Flags).
		Uint32("request_id", h.RequestID).
		Int("body", payload.Remaining()).
		Msg("snac")
	return false
}

// Counts returns the per-pair totals sorted by family then subtype.
func (m *Module) Counts() []Count {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Count, 0, len(m.counts))
	for _, c := range m.counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Subtype < out[j].Subtype
	})
	return out
}

func (m *Module) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.counts {
		total += c.Frames
	}
	m.log.Debug().Int("pairs", len(m.counts)).Int("frames", total).Msg("trace shutdown")
	return nil
}
