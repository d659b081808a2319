// Package transport defines the boundary between the replication core and the network.
//
// Implementations run their own I/O but never call back into the core: inbound
// activity is buffered and handed over by Poll, and Send only enqueues.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
)

var (
	ErrUnknownPeer     = errors.New("transport: unknown peer")
	ErrTransportClosed = errors.New("transport: closed")
	ErrQueueFull       = errors.New("transport: send queue full")
)

// PeerID is a transport-local handle for one live connection.
type PeerID uint64

// Delivery selects the channel semantics for one send.
type Delivery uint8

const (
	// ReliableOrdered is FIFO and loss-free per connection.
	ReliableOrdered Delivery = iota
	// Unreliable may be dropped or reordered.
	Unreliable
)

func (d Delivery) String() string {
	switch d {
	case ReliableOrdered:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("delivery(%d)", uint8(d))
	}
}

// Identity is what a host announces during the handshake.
type Identity struct {
	Token    ident.HostToken
	Address  ident.PeerAddress
	Name     string
	Listener bool
}

type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one unit of inbound activity. Remote is set for EventConnected;
// Data for EventMessage; Err optionally for EventDisconnected.
type Event struct {
	Kind   EventKind
	Peer   PeerID
	Remote Identity
	Data   []byte
	Err    error
}

// Transport is a message-oriented peer network.
type Transport interface {
	// Identity returns the local identity announced to peers.
	Identity() Identity
	// Dial starts connecting to a listener. Completion is reported as an
	// EventConnected on a later Poll.
	Dial(ctx context.Context, address string) error
	// Send enqueues data for one peer without blocking.
	Send(peer PeerID, data []byte, delivery Delivery) error
	// Poll drains all buffered inbound events without blocking.
	Poll() []Event
	// Disconnect closes one peer connection. Both sides observe an
	// EventDisconnected on a later Poll.
	Disconnect(peer PeerID) error
	Close() error
}
