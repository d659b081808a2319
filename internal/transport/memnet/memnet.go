// Package memnet is an in-process Transport for tests and single-binary demos.
//
// Reliable sends are delivered in order. Unreliable sends can be held back,
// released in reverse, or dropped, so tests can reproduce reordering and loss
// deterministically.
package memnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressInUse = errors.New("memnet: address in use")
	ErrNoListener   = errors.New("memnet: no listener at address")
)

type link struct {
	remote     *Endpoint
	remotePeer transport.PeerID
}

type heldMessage struct {
	target *Endpoint
	peer   transport.PeerID
	data   []byte
}

// Network is the shared medium. One mutex guards every endpoint's link table.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	nextPeer  transport.PeerID

	holdUnreliable bool
	dropUnreliable bool
	held           []heldMessage
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Join attaches a new endpoint under id.Address.
func (n *Network) Join(id transport.Identity) (*Endpoint, error) {
	if id.Address.IsZero() {
		return nil, fmt.Errorf("memnet: join: empty address")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[string(id.Address)]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, id.Address)
	}
	ep := &Endpoint{
		net:   n,
		id:    id,
		links: make(map[transport.PeerID]link),
	}
	n.endpoints[string(id.Address)] = ep
	return ep, nil
}

// HoldUnreliable queues unreliable sends instead of delivering them.
func (n *Network) HoldUnreliable(on bool) {
	n.mu.Lock()
	n.holdUnreliable = on
	n.mu.Unlock()
}

// DropUnreliable discards every unreliable send while on.
func (n *Network) DropUnreliable(on bool) {
	n.mu.Lock()
	n.dropUnreliable = on
	n.mu.Unlock()
}

// ReleaseHeld delivers held unreliable messages, newest first when reversed.
// Returns how many were delivered.
func (n *Network) ReleaseHeld(reversed bool) int {
	n.mu.Lock()
	held := n.held
	n.held = nil
	n.mu.Unlock()

	if reversed {
		for i, j := 0, len(held)-1; i < j; i, j = i+1, j-1 {
			held[i], held[j] = held[j], held[i]
		}
	}
	for _, m := range held {
		m.target.events.Push(transport.Event{Kind: transport.EventMessage, Peer: m.peer, Data: m.data})
	}
	return len(held)
}

func (n *Network) allocPeerLocked() transport.PeerID {
	n.nextPeer++
	return n.nextPeer
}

// Endpoint is one host's view of the Network.
type Endpoint struct {
	net    *Network
	id     transport.Identity
	events transport.EventQueue

	links  map[transport.PeerID]link
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Identity() transport.Identity {
	return e.id
}

// Dial connects to the listener at address. Both sides see EventConnected on
// their next Poll.
func (e *Endpoint) Dial(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := e.net
	n.mu.Lock()
	if e.closed {
		n.mu.Unlock()
		return transport.ErrTransportClosed
	}
	target, ok := n.endpoints[address]
	if !ok || target.closed || !target.id.Listener || target == e {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoListener, address)
	}
	local := n.allocPeerLocked()
	remote := n.allocPeerLocked()
	e.links[local] = link{remote: target, remotePeer: remote}
	target.links[remote] = link{remote: e, remotePeer: local}
	n.mu.Unlock()

	target.events.Push(transport.Event{Kind: transport.EventConnected, Peer: remote, Remote: e.id})
	e.events.Push(transport.Event{Kind: transport.EventConnected, Peer: local, Remote: target.id})
	log.Debug().Msgf("memnet.Endpoint.Dial from=%s to=%s peer=%d", e.id.Address, address, local)
	return nil
}

func (e *Endpoint) Send(peer transport.PeerID, data []byte, delivery transport.Delivery) error {
	n := e.net
	n.mu.Lock()
	if e.closed {
		n.mu.Unlock()
		return transport.ErrTransportClosed
	}
	l, ok := e.links[peer]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peer)
	}
	buf := append([]byte(nil), data...)
	if delivery == transport.Unreliable {
		if n.dropUnreliable {
			n.mu.Unlock()
			return nil
		}
		if n.holdUnreliable {
			n.held = append(n.held, heldMessage{target: l.remote, peer: l.remotePeer, data: buf})
			n.mu.Unlock()
			return nil
		}
	}
	n.mu.Unlock()
	l.remote.events.Push(transport.Event{Kind: transport.EventMessage, Peer: l.remotePeer, Data: buf})
	return nil
}

func (e *Endpoint) Poll() []transport.Event {
	return e.events.Drain()
}

// Disconnect severs one connection. Both sides see EventDisconnected.
func (e *Endpoint) Disconnect(peer transport.PeerID) error {
	n := e.net
	n.mu.Lock()
	l, ok := e.links[peer]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peer)
	}
	delete(e.links, peer)
	delete(l.remote.links, l.remotePeer)
	n.mu.Unlock()

	e.events.Push(transport.Event{Kind: transport.EventDisconnected, Peer: peer})
	l.remote.events.Push(transport.Event{Kind: transport.EventDisconnected, Peer: l.remotePeer})
	return nil
}

// Close severs every link and frees the address.
func (e *Endpoint) Close() error {
	n := e.net
	n.mu.Lock()
	if e.closed {
		n.mu.Unlock()
		return nil
	}
	e.closed = true
	delete(n.endpoints, string(e.id.Address))
	links := e.links
	e.links = make(map[transport.PeerID]link)
	for _, l := range links {
		delete(l.remote.links, l.remotePeer)
	}
	n.mu.Unlock()

	for _, l := range links {
		l.remote.events.Push(transport.Event{Kind: transport.EventDisconnected, Peer: l.remotePeer, Err: transport.ErrTransportClosed})
	}
	return nil
}
