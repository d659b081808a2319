package distributed

import (
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
)

// Object is the closed set of replicated objects. Concrete kinds embed
// Distributed and supply EncodeState, the Create payload for their current
// local state.
type Object interface {
	ID() ident.ObjectID
	Kind() Kind
	// Owner is nil when this host is authoritative.
	Owner() *Peer
	IsOwner() bool
	Initialized() bool
	Deleted() bool
	Deletable() bool
	Node() *scene.Node
	EncodeState(w *wire.Writer)

	core() *objectCore
}

// Replica is an Object whose local state is reachable as I.
type Replica[I any] interface {
	Object
	Local() I
}

type objectCore struct {
	host        *Host
	self        Object
	kind        Kind
	id          ident.ObjectID
	owner       *Peer
	node        *scene.Node
	deletable   bool
	initialized bool
	deleted     bool
	stale       staleness
}

func (c *objectCore) mustBeLive(op string) {
	if !c.initialized {
		contractViolation(op, "object of kind %d is not initialized", c.kind)
	}
	if c.deleted {
		contractViolation(op, "object %s is deleted", c.id)
	}
}

// Distributed wraps local state of interface type I with identity and
// ownership. Embed it by value in the concrete kind and do not copy it after
// initialization.
type Distributed[I any] struct {
	c     objectCore
	local I
}

func NewDistributed[I any](kind Kind, node *scene.Node, local I, deletable bool) Distributed[I] {
	return Distributed[I]{
		c:     objectCore{kind: kind, node: node, deletable: deletable},
		local: local,
	}
}

func (d *Distributed[I]) core() *objectCore { return &d.c }

func (d *Distributed[I]) Local() I { return d.local }

func (d *Distributed[I]) ID() ident.ObjectID { return d.c.id }

func (d *Distributed[I]) Kind() Kind { return d.c.kind }

func (d *Distributed[I]) Owner() *Peer { return d.c.owner }

func (d *Distributed[I]) IsOwner() bool { return d.c.initialized && d.c.owner == nil }

func (d *Distributed[I]) Initialized() bool { return d.c.initialized }

func (d *Distributed[I]) Deleted() bool { return d.c.deleted }

func (d *Distributed[I]) Deletable() bool { return d.c.deletable }

func (d *Distributed[I]) Node() *scene.Node { return d.c.node }

// Host is nil until the object is initialized.
func (d *Distributed[I]) Host() *Host { return d.c.host }

// Delete removes the object everywhere when called on the owner, or asks the
// owner to do so when called on a proxy. Non-deletable kinds ignore it.
func (d *Distributed[I]) Delete() {
	d.c.mustBeLive("Delete")
	d.c.host.deleteObject(d.c.self)
}
