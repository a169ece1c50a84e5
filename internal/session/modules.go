package session

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
)

// ModuleInfo describes a protocol family implementation.
type ModuleInfo struct {
	Name        string
	Family      uint16
	Version     uint16
	ToolID      uint16
	ToolVersion uint16
	// Wildcard modules are offered every SNAC no exact owner claimed.
	Wildcard bool
}

// Module handles SNACs for one family. HandleSNAC receives the payload
// positioned after the SNAC header and reports whether it claimed the frame.
type Module interface {
	Info() ModuleInfo
	HandleSNAC(s *Session, fr *Frame, h frame.SNACHeader, payload *cursor.Cursor) bool
}

// Shutdowner is implemented by modules holding private state.
type Shutdowner interface {
	Shutdown() error
}

type RegistryState uint8

const (
	RegistryEmpty RegistryState = iota
	RegistryPopulated
	RegistryShutdown
)

func (s RegistryState) String() string {
	switch s {
	case RegistryEmpty:
		return "empty"
	case RegistryPopulated:
		return "populated"
	case RegistryShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("RegistryState(%d)", uint8(s))
	}
}

// Modules is the session's ordered module list.
type Modules struct {
	mu      sync.RWMutex
	modules []Module
	state   RegistryState
}

func NewModules() *Modules {
	return &Modules{}
}

// Register appends m. A rejected module is shut down before returning
// since the registry never took ownership of it.
func (r *Modules) Register(m Module) error {
	info := m.Info()
	name := info.Name
	r.mu.Lock()
	var err error
	switch {
	case r.state == RegistryShutdown:
		err = fmt.Errorf("%w: %q", ErrRegistryShutdown, name)
	case r.findByName(name) != nil:
		err = fmt.Errorf("%w: %q", ErrModuleExists, name)
	case !info.Wildcard && r.findByFamily(info.Family) != nil:
		err = fmt.Errorf("%w: family 0x%04x already owned, rejecting %q", ErrModuleExists, info.Family, name)
	default:
		r.modules = append(r.modules, m)
		r.state = RegistryPopulated
	}
	r.mu.Unlock()

	if err != nil {
		if sd, ok := m.(Shutdowner); ok {
			err = multierr.Append(err, sd.Shutdown())
		}
	}
	return err
}

func (r *Modules) findByName(name string) Module {
	for _, m := range r.modules {
		if m.Info().Name == name {
			return m
		}
	}
	return nil
}

func (r *Modules) FindByName(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.findByName(name)
	return m, m != nil
}

func (r *Modules) findByFamily(family uint16) Module {
	for _, m := range r.modules {
		info := m.Info()
		if !info.Wildcard && info.Family == family {
			return m
		}
	}
	return nil
}

// FindByFamily returns the non-wildcard module that owns family.
func (r *Modules) FindByFamily(family uint16) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.findByFamily(family)
	return m, m != nil
}

// Wildcards returns the wildcard modules in registration order.
func (r *Modules) Wildcards() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Module
	for _, m := range r.modules {
		if m.Info().Wildcard {
			out = append(out, m)
		}
	}
	return out
}

func (r *Modules) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Versions lists the family versions to advertise to the server, one per
// exact-family module.
func (r *Modules) Versions() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModuleInfo
	for _, m := range r.modules {
		if info := m.Info(); !info.Wildcard {
			out = append(out, info)
		}
	}
	return out
}

func (r *Modules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

func (r *Modules) State() RegistryState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ShutdownAll tears every module down once, in registration order, and
// leaves the registry in its terminal state.
func (r *Modules) ShutdownAll() error {
	r.mu.Lock()
	if r.state == RegistryShutdown {
		r.mu.Unlock()
		return nil
	}
	modules := r.modules
	r.modules = nil
	r.state = RegistryShutdown
	r.mu.Unlock()

	var errs error
	for _, m := range modules {
		sd, ok := m.(Shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shutdown %q: %w", m.Info().Name, err))
		}
	}
	return errs
}
