package distributed

import (
	"context"
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/envelope"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/frame"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport/memnet"
	"github.com/stretchr/testify/require"
)

const (
	kindCounter Kind = 1
	kindAnchor  Kind = 2

	msgSetX  MessageKind = 10
	msgLevel MessageKind = 11
)

type counterLocal struct {
	x       int32
	history []int32
	level   float32
	levelTS uint64
	removed bool
}

type counter struct {
	Distributed[*counterLocal]
}

func (c *counter) EncodeState(w *wire.Writer) {
	w.I32(c.Local().x)
}

func (c *counter) OnDelete() {
	c.Local().removed = true
}

func newCounter(node *scene.Node, kind Kind) (*counter, *counterLocal) {
	local := &counterLocal{}
	return &counter{Distributed: NewDistributed(kind, node, local, kind != kindAnchor)}, local
}

type setX struct{ x int32 }

func (m setX) MessageKind() MessageKind { return msgSetX }
func (m setX) Encode(w *wire.Writer)    { w.I32(m.x) }
func (m setX) Apply(l *counterLocal) {
	l.x = m.x
	l.history = append(l.history, m.x)
}

type level struct {
	ts uint64
	v  float32
}

func (m level) MessageKind() MessageKind { return msgLevel }
func (m level) Encode(w *wire.Writer)    { w.F32(m.v) }
func (m level) Timestamp() uint64        { return m.ts }
func (m level) Apply(l *counterLocal) {
	l.level = m.v
	l.levelTS = m.ts
}

func registerCounters(h *Host) {
	for _, kind := range []Kind{kindCounter, kindAnchor} {
		RegisterCreate(h, kind,
			func(r *wire.Reader) int32 { return r.I32() },
			func(node *scene.Node) (*counter, *counterLocal) { return newCounter(node, kind) },
			func(l *counterLocal, x int32) { l.x = x },
		)
	}
	RegisterReliable[*counterLocal, setX](h, msgSetX, func(r *wire.Reader) setX {
		return setX{x: r.I32()}
	})
	RegisterBroadcast[*counterLocal, level](h, msgLevel, func(r *wire.Reader, ts uint64) level {
		return level{ts: ts, v: r.F32()}
	})
}

func testCatalog() *scene.Catalog {
	c := scene.NewCatalog()
	c.Register(kindCounter, scene.Prototype{Name: "counter"})
	c.Register(kindAnchor, scene.Prototype{Name: "anchor"})
	return c
}

type testHost struct {
	*Host
	ep *memnet.Endpoint
}

func newTestHost(t *testing.T, n *memnet.Network, addr string, listener bool, cfg Config) testHost {
	t.Helper()
	ep, err := n.Join(transport.Identity{
		Token:    ident.NewHostToken(),
		Address:  ident.PeerAddress(addr),
		Name:     addr,
		Listener: listener,
	})
	require.NoError(t, err)
	h, err := NewHost(cfg, ep, testCatalog())
	require.NoError(t, err)
	registerCounters(h)
	return testHost{Host: h, ep: ep}
}

func dial(t *testing.T, from testHost, to testHost) {
	t.Helper()
	require.NoError(t, from.Dial(context.Background(), to.Identity().Address.String()))
}

// pump polls every host enough rounds for request, fan-out and echo to settle.
func pump(hosts ...testHost) {
	for range 4 {
		for _, h := range hosts {
			h.PollEvents()
		}
	}
}

func ownCounter(h testHost, kind Kind, x int32) *counter {
	c, l := newCounter(nil, kind)
	l.x = x
	h.InitializeOwner(c)
	return c
}

func proxyOf(t *testing.T, h testHost, id ident.ObjectID) *counter {
	t.Helper()
	obj, ok := h.Lookup(id)
	require.True(t, ok, "no proxy for %s", id)
	c, ok := obj.(*counter)
	require.True(t, ok)
	return c
}

func peerFor(t *testing.T, h testHost, other testHost) *Peer {
	t.Helper()
	p, ok := h.PeerByToken(other.Token())
	require.True(t, ok)
	return p
}

// sendRaw pushes a hand-built envelope from one host's endpoint to another.
func sendRaw(t *testing.T, from testHost, to testHost, env envelope.Envelope) {
	t.Helper()
	data, err := envelope.Encode(9999, env, frame.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, from.ep.Send(peerFor(t, from, to).ID, data, transport.ReliableOrdered))
}

func requireContractPanic(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected contract violation in %s", op)
		ce, ok := r.(*ContractError)
		require.True(t, ok, "unexpected panic value %v", r)
		require.Equal(t, op, ce.Op)
	}()
	fn()
}

func testIdentity(addr string) transport.Identity {
	return transport.Identity{Token: ident.NewHostToken(), Address: ident.PeerAddress(addr)}
}
