package distributed

import (
	"fmt"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/envelope"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
)

type createHandler func(owner *Peer, env envelope.Envelope) (Object, error)

type applyHandler func(obj Object, env envelope.Envelope) error

// RegisterCreate wires Create envelopes of kind to proxy instantiation.
//
// On receipt the host asks its factory for a fresh node, newPair builds the
// distributed object and its local state on that node, initialize loads the
// decoded create state into the local state, and the object becomes a proxy
// owned by the sending peer.
func RegisterCreate[D Object, L any, S any](
	h *Host,
	kind Kind,
	decode func(r *wire.Reader) S,
	newPair func(node *scene.Node) (D, L),
	initialize func(local L, state S),
) {
	if _, ok := h.creates[kind]; ok {
		contractViolation("RegisterCreate", "kind %d registered twice", kind)
	}
	h.creates[kind] = func(owner *Peer, env envelope.Envelope) (Object, error) {
		r := wire.NewReader(env.Payload)
		state := decode(r)
		if err := r.Done(); err != nil {
			return nil, fmt.Errorf("%w: create kind=%d: %v", ErrPayload, kind, err)
		}
		node, err := h.factory.Instantiate(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInstantiate, err)
		}
		obj, local := newPair(node)
		initialize(local, state)
		h.InitializeProxy(obj, owner, env.ID)
		return obj, nil
	}
}

// RegisterReliable wires Reliable envelopes of kind to M.Apply on objects
// whose local state is I. A request arriving at the owner goes back through
// RouteReliable so every proxy, the requester included, sees the result.
func RegisterReliable[I any, M Applier[I]](h *Host, kind MessageKind, decode func(r *wire.Reader) M) {
	if _, ok := h.reliables[kind]; ok {
		contractViolation("RegisterReliable", "message kind %d registered twice", kind)
	}
	h.reliables[kind] = func(obj Object, env envelope.Envelope) error {
		target, ok := obj.(Replica[I])
		if !ok {
			return fmt.Errorf("%w: reliable kind=%d object=%s kind=%d", ErrKindMismatch, kind, obj.ID(), obj.Kind())
		}
		r := wire.NewReader(env.Payload)
		msg := decode(r)
		if err := r.Done(); err != nil {
			return fmt.Errorf("%w: reliable kind=%d: %v", ErrPayload, kind, err)
		}
		if env.IsRequest {
			RouteReliable[I](target, msg)
			return nil
		}
		msg.Apply(target.Local())
		return nil
	}
}

// RegisterBroadcast wires Broadcast envelopes of kind to M.Apply, discarding
// any update whose timestamp is not newer than the last one applied to the
// same object for the same kind. decode receives the envelope timestamp.
func RegisterBroadcast[I any, M BroadcastApplier[I]](h *Host, kind MessageKind, decode func(r *wire.Reader, timestamp uint64) M) {
	if _, ok := h.broadcasts[kind]; ok {
		contractViolation("RegisterBroadcast", "message kind %d registered twice", kind)
	}
	h.broadcasts[kind] = func(obj Object, env envelope.Envelope) error {
		target, ok := obj.(Replica[I])
		if !ok {
			return fmt.Errorf("%w: broadcast kind=%d object=%s kind=%d", ErrKindMismatch, kind, obj.ID(), obj.Kind())
		}
		r := wire.NewReader(env.Payload)
		msg := decode(r, env.Timestamp)
		if err := r.Done(); err != nil {
			return fmt.Errorf("%w: broadcast kind=%d: %v", ErrPayload, kind, err)
		}
		c := obj.core()
		if !c.stale.admit(kind, env.Timestamp) {
			h.noteStale(obj.ID(), kind, env.Timestamp)
			return nil
		}
		msg.Apply(target.Local())
		return nil
	}
}

// LatestBroadcast reports the newest timestamp applied to obj for kind.
func LatestBroadcast(obj Object, kind MessageKind) (uint64, bool) {
	return obj.core().stale.latest(kind)
}
