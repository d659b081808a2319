// Package hosttest builds small in-memory clusters of hosts for tests.
package hosttest

import (
	"context"
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport/memnet"
)

// Cluster shares one memnet network between its hosts.
type Cluster struct {
	t       testing.TB
	Net     *memnet.Network
	factory scene.Factory
	setup   func(*distributed.Host)
	hosts   []*distributed.Host
	eps     map[*distributed.Host]*memnet.Endpoint
}

// New returns a cluster whose hosts use factory and are passed to setup,
// typically a kind registration function, right after construction.
func New(t testing.TB, factory scene.Factory, setup func(*distributed.Host)) *Cluster {
	t.Helper()
	return &Cluster{
		t:       t,
		Net:     memnet.NewNetwork(),
		factory: factory,
		setup:   setup,
		eps:     make(map[*distributed.Host]*memnet.Endpoint),
	}
}

func (c *Cluster) Host(addr string, listener bool) *distributed.Host {
	return c.HostWithConfig(addr, listener, distributed.DefaultConfig())
}

func (c *Cluster) HostWithConfig(addr string, listener bool, cfg distributed.Config) *distributed.Host {
	c.t.Helper()
	ep, err := c.Net.Join(transport.Identity{
		Token:    ident.NewHostToken(),
		Address:  ident.PeerAddress(addr),
		Name:     addr,
		Listener: listener,
	})
	if err != nil {
		c.t.Fatalf("join %s: %v", addr, err)
	}
	h, err := distributed.NewHost(cfg, ep, c.factory)
	if err != nil {
		c.t.Fatalf("new host %s: %v", addr, err)
	}
	if c.setup != nil {
		c.setup(h)
	}
	c.hosts = append(c.hosts, h)
	c.eps[h] = ep
	return h
}

// Connect dials from -> to and pumps until both sides see each other.
func (c *Cluster) Connect(from, to *distributed.Host) {
	c.t.Helper()
	if err := from.Dial(context.Background(), to.Identity().Address.String()); err != nil {
		c.t.Fatalf("dial %s -> %s: %v", from.Identity().Address, to.Identity().Address, err)
	}
	c.Pump()
}

// Endpoint returns the memnet endpoint behind h, for severing links.
func (c *Cluster) Endpoint(h *distributed.Host) *memnet.Endpoint {
	return c.eps[h]
}

// Pump polls every host several rounds so requests, fan-out and echoes settle.
func (c *Cluster) Pump() {
	for range 4 {
		for _, h := range c.hosts {
			h.PollEvents()
		}
	}
}

// Lookup resolves id on h and asserts it to T.
func Lookup[T distributed.Object](t testing.TB, h *distributed.Host, id ident.ObjectID) T {
	t.Helper()
	obj, ok := h.Lookup(id)
	if !ok {
		t.Fatalf("host %s has no object %s", h.Label(), id)
	}
	typed, ok := obj.(T)
	if !ok {
		t.Fatalf("object %s has type %T", id, obj)
	}
	return typed
}
