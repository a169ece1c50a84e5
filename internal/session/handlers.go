package session

import (
	"fmt"

	"github.com/danmuck/goscar/internal/protocol"
)

// Handler is an application callback. args are family specific; for the
// unclaimed handler they are (family, subtype uint16), for ConnErr a
// tlv.Chain from the server or a local error.
type Handler func(s *Session, fr *Frame, args ...any) error

type handlerKey struct {
	family  uint16
	subtype uint16
}

// Handlers maps (family, subtype) pairs to callbacks for one connection.
type Handlers struct {
	entries map[handlerKey]Handler
}

func NewHandlers() *Handlers {
	return &Handlers{entries: make(map[handlerKey]Handler)}
}

func reserved(family, subtype uint16) bool {
	if family != protocol.FamilySpecial {
		return false
	}
	return subtype == protocol.SubtypeFlapVersion || subtype == protocol.SubtypeKeepalive
}

// Add installs h, replacing any previous entry for the pair.
func (h *Handlers) Add(family, subtype uint16, fn Handler) error {
	if reserved(family, subtype) {
		return fmt.Errorf("%w: 0x%04x/0x%04x", ErrReservedHandler, family, subtype)
	}
	if fn == nil {
		return fmt.Errorf("session: nil handler for 0x%04x/0x%04x", family, subtype)
	}
	h.entries[handlerKey{family, subtype}] = fn
	return nil
}

func (h *Handlers) Remove(family, subtype uint16) {
	delete(h.entries, handlerKey{family, subtype})
}

func (h *Handlers) Clear() {
	clear(h.entries)
}

func (h *Handlers) Len() int {
	return len(h.entries)
}

// chain lists the lookup order: exact, family default, global default.
// Duplicates are dropped so the walk is at most three probes.
func chain(family, subtype uint16) []handlerKey {
	keys := make([]handlerKey, 0, 3)
	keys = append(keys, handlerKey{family, subtype})
	if subtype != protocol.SubtypeDefault {
		keys = append(keys, handlerKey{family, protocol.SubtypeDefault})
	}
	if family != protocol.FamilySpecial {
		keys = append(keys, handlerKey{protocol.FamilySpecial, protocol.SubtypeDefault})
	}
	return keys
}

// Resolve walks exact, family default and global default in that order.
func (h *Handlers) Resolve(family, subtype uint16) (Handler, bool) {
	for _, key := range chain(family, subtype) {
		if fn, ok := h.entries[key]; ok {
			return fn, true
		}
	}
	return nil, false
}

// CloneInto copies every entry into dst, overwriting matching pairs.
func (h *Handlers) CloneInto(dst *Handlers) {
	for key, fn := range h.entries {
		dst.entries[key] = fn
	}
}

// Call resolves and runs a handler. It reports false when nothing matched.
func (h *Handlers) Call(s *Session, fr *Frame, family, subtype uint16, args ...any) (bool, error) {
	fn, ok := h.Resolve(family, subtype)
	if !ok {
		return false, nil
	}
	return true, fn(s, fr, args...)
}
