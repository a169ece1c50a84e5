package session

import "errors"

var (
	ErrModuleExists     = errors.New("session: module already registered")
	ErrRegistryShutdown = errors.New("session: module registry is shut down")
	ErrReservedHandler  = errors.New("session: handler pair is reserved for the core")
	ErrConnClosed       = errors.New("session: connection closed")
	ErrFrameTooLarge    = errors.New("session: frame capacity exceeds limit")
	ErrBadChannel       = errors.New("session: channel out of range")
	ErrFrameReleased    = errors.New("session: frame already released")
)
