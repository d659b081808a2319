package distributed

import (
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/envelope"
)

// RouteReliable performs one ordered operation on obj.
//
// On the owner the operation is applied at once and its non-request form is
// queued to every connected peer. On a proxy the request form is queued to
// the owner only and nothing is applied locally; the proxy observes the
// result when the owner's update arrives.
func RouteReliable[I any](obj Replica[I], msg Applier[I]) {
	c := obj.core()
	c.mustBeLive("RouteReliable")
	h := c.host
	payload := encodeMessage(msg)
	kind := uint16(msg.MessageKind())
	if c.owner == nil {
		msg.Apply(obj.Local())
		h.enqueueAll(envelope.NewReliable(c.id, kind, false, payload))
		return
	}
	h.enqueueToOwner(c.owner, envelope.NewReliable(c.id, kind, true, payload))
}

// RouteBroadcast applies a timestamped update locally and queues it to every
// connected peer as unreliable traffic. Only the owner may broadcast. An update
// whose timestamp is not newer than the last one of its kind is discarded on
// the owner too, so the owner never holds state its proxies would refuse.
func RouteBroadcast[I any](obj Replica[I], msg BroadcastApplier[I]) {
	c := obj.core()
	c.mustBeLive("RouteBroadcast")
	if c.owner != nil {
		contractViolation("RouteBroadcast", "object %s is a proxy owned by %s", c.id, c.owner)
	}
	if !c.stale.admit(msg.MessageKind(), msg.Timestamp()) {
		c.host.noteStale(c.id, msg.MessageKind(), msg.Timestamp())
		return
	}
	msg.Apply(obj.Local())
	c.host.enqueueBroadcast(envelope.NewBroadcast(c.id, uint16(msg.MessageKind()), msg.Timestamp(), encodeMessage(msg)))
}
