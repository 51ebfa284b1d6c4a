package stream

import (
	"context"

	"camlink-agent/internal/model"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventText
	EventBinary
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventText:
		return "text"
	case EventBinary:
		return "binary"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a session notification. Transports emit events from their own
// goroutines; the pusher applies them on its next tick.
type Event struct {
	Kind    EventKind
	Session Session
	Payload []byte
	Err     error

	gen uint64
}

// EventFunc must not block.
type EventFunc func(Event)

// Target addresses one collector session for this device.
type Target struct {
	URL      string
	DeviceID string
	APIKey   string
}

type Transport interface {
	// Dial blocks until the session is established or ctx ends. emit receives
	// inbound messages and the final EventDisconnected for the session.
	Dial(ctx context.Context, target Target, emit EventFunc) (Session, error)
}

type Session interface {
	WriteFrame(ctx context.Context, f *model.Frame) error
	// Close releases the session without waiting on the far end.
	Close() error
}
