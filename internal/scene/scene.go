// Package scene stands in for the rendering layer: it hands out fresh scene
// nodes that host the local state of newly created proxies.
package scene

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
)

var ErrUnknownPrototype = errors.New("scene: unknown prototype")

// Kind is the type tag carried by Create envelopes.
type Kind uint16

// Node is one instantiated scene object.
type Node struct {
	Kind       Kind
	Serial     uint64
	Name       string
	Attributes map[string]string
}

// Factory returns a fresh, uninitialized node for a kind.
type Factory interface {
	Instantiate(kind Kind) (*Node, error)
}

// Prototype is the template a Catalog clones.
type Prototype struct {
	Name       string
	Attributes map[string]string
}

// Catalog is an in-memory Factory keyed by kind.
type Catalog struct {
	mu         sync.RWMutex
	prototypes map[Kind]Prototype
	serial     atomic.Uint64
}

var _ Factory = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{prototypes: make(map[Kind]Prototype)}
}

// Register installs or replaces the prototype for kind.
func (c *Catalog) Register(kind Kind, proto Prototype) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prototypes[kind] = Prototype{Name: proto.Name, Attributes: maps.Clone(proto.Attributes)}
}

func (c *Catalog) Has(kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.prototypes[kind]
	return ok
}

// Instantiate clones the prototype for kind into a new node.
func (c *Catalog) Instantiate(kind Kind) (*Node, error) {
	c.mu.RLock()
	proto, ok := c.prototypes[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kind=%d", ErrUnknownPrototype, kind)
	}
	attrs := maps.Clone(proto.Attributes)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &Node{
		Kind:       kind,
		Serial:     c.serial.Add(1),
		Name:       proto.Name,
		Attributes: attrs,
	}, nil
}
