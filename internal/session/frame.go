package session

import (
	"github.com/danmuck/goscar/internal/protocol"
	"github.com/danmuck/goscar/internal/protocol/cursor"
	"github.com/danmuck/goscar/internal/protocol/frame"
)

// Frame is one queued inbound or outbound message. The queue holding it
// owns it until a handler calls Retain; from then on the caller owns it
// and must call Release.
type Frame struct {
	Conn    *Conn
	Kind    protocol.FramingKind
	Header  frame.Header
	Payload *cursor.Cursor

	handled  bool
	retained bool
	released bool
}

// Channel is the FLAP channel, or zero for rendezvous frames.
func (f *Frame) Channel() uint8 {
	if f.Kind != protocol.FramingStream {
		return 0
	}
	return f.Header.FLAP.Channel
}

// ChannelOrSubtype is the FLAP channel for stream frames and the header
// subtype for rendezvous frames.
func (f *Frame) ChannelOrSubtype() uint16 {
	if f.Kind == protocol.FramingRendezvous {
		return f.Header.Rendezvous.Subtype
	}
	return uint16(f.Header.FLAP.Channel)
}

func (f *Frame) Handled() bool {
	return f.handled
}

// MarkHandled makes the frame eligible for purge.
func (f *Frame) MarkHandled() {
	f.handled = true
}

// Retain takes ownership away from the queue. A purge drops a retained
// frame from its queue without releasing it.
func (f *Frame) Retain() {
	f.retained = true
}

func (f *Frame) Retained() bool {
	return f.retained
}

// Release drops the payload buffer. Calling it twice is harmless.
func (f *Frame) Release() {
	f.released = true
	f.Payload = nil
}

func (f *Frame) Released() bool {
	return f.released
}

// Bytes is the written part of an outbound payload.
func (f *Frame) Bytes() []byte {
	if f.Payload == nil {
		return nil
	}
	return f.Payload.Bytes()
}
