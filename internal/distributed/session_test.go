package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport/memnet"
	"github.com/stretchr/testify/require"
)

func TestRetainPolicyKeepsProxiesUntilOwnerReturns(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	a := newTestHost(t, n, "a:1", true, DefaultConfig())
	b := newTestHost(t, n, "b:1", false, DefaultConfig())
	dial(t, b, a)
	pump(a, b)

	obj := ownCounter(a, kindCounter, 4)
	pump(a, b)
	stale := proxyOf(t, b, obj.ID())

	var gone []string
	b.OnPeerDisconnected(func(p *Peer) { gone = append(gone, p.Address.String()) })
	require.NoError(t, b.ep.Disconnect(peerFor(t, b, a).ID))
	pump(a, b)

	require.Equal(t, []string{"a:1"}, gone)
	require.Empty(t, b.Peers())
	require.False(t, stale.Owner().Connected())
	require.False(t, stale.Deleted())
	require.Len(t, b.Proxies(), 1)

	RouteReliable[*counterLocal](stale, setX{x: 8})
	require.Equal(t, uint64(1), b.Stats().Dropped["owner_disconnected"])

	dial(t, b, a)
	pump(a, b)

	require.True(t, stale.Deleted())
	fresh := proxyOf(t, b, obj.ID())
	require.NotSame(t, stale, fresh)
	require.True(t, fresh.Owner().Connected())
	require.Equal(t, int32(4), fresh.Local().x)
	require.Len(t, b.Proxies(), 1)
}

func TestEvictPolicyTearsDownProxies(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	cfg := DefaultConfig()
	cfg.DisconnectPolicy = EvictProxies
	a := newTestHost(t, n, "a:1", true, DefaultConfig())
	b := newTestHost(t, n, "b:1", false, cfg)
	dial(t, b, a)
	pump(a, b)

	obj := ownCounter(a, kindCounter, 4)
	pump(a, b)
	proxy := proxyOf(t, b, obj.ID())

	require.NoError(t, a.ep.Close())
	pump(b)

	require.True(t, proxy.Deleted())
	require.Empty(t, b.Proxies())
}

func TestPeerHooksAndSelfIdentity(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	a := newTestHost(t, n, "a:1", true, DefaultConfig())
	b := newTestHost(t, n, "b:1", false, DefaultConfig())

	var connected []*Peer
	a.OnPeerConnected(func(p *Peer) { connected = append(connected, p) })
	var created []Object
	b.OnProxyCreated(func(o Object) { created = append(created, o) })

	ownCounter(a, kindCounter, 1)
	dial(t, b, a)
	pump(a, b)

	require.Len(t, connected, 1)
	require.Equal(t, b.Token(), connected[0].Token)
	require.Equal(t, "b:1", connected[0].Address.String())
	require.False(t, connected[0].Listener)
	require.Len(t, created, 1)
	require.True(t, peerFor(t, b, a).Listener)
}

func TestBroadcastThrottleDropsOverBudget(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	cfg := DefaultConfig()
	cfg.BroadcastRate = 0.001
	cfg.BroadcastBurst = 2
	a := newTestHost(t, n, "a:1", true, cfg)
	b := newTestHost(t, n, "b:1", false, DefaultConfig())
	dial(t, b, a)
	pump(a, b)

	obj := ownCounter(a, kindCounter, 0)
	pump(a, b)
	for ts := uint64(1); ts <= 5; ts++ {
		RouteBroadcast[*counterLocal](obj, level{ts: ts, v: float32(ts)})
	}
	pump(a, b)

	require.Equal(t, uint64(3), a.Stats().Dropped["throttled"])
	require.Equal(t, float32(5), obj.Local().level, "owner applies regardless of budget")
	require.Equal(t, uint64(2), proxyOf(t, b, obj.ID()).Local().levelTS)

	RouteReliable[*counterLocal](obj, setX{x: 3})
	pump(a, b)
	require.Equal(t, int32(3), proxyOf(t, b, obj.ID()).Local().x)
}

func TestLoopTickPollsAroundUpdate(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	a := newTestHost(t, n, "a:1", true, DefaultConfig())
	b := newTestHost(t, n, "b:1", false, DefaultConfig())
	dial(t, b, a)

	obj := ownCounter(a, kindCounter, 0)
	var seenPeers []int
	loop := NewLoop(a.Host, func(tick uint64, _ time.Time) {
		seenPeers = append(seenPeers, len(a.Peers()))
		RouteReliable[*counterLocal](obj, setX{x: int32(tick)})
	})

	loop.Tick()
	require.Equal(t, []int{1}, seenPeers, "input before the update is visible to it")
	require.Equal(t, uint64(1), loop.Ticks())

	b.PollEvents()
	require.Equal(t, int32(1), proxyOf(t, b, obj.ID()).Local().x, "changes leave within the tick")
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	a := newTestHost(t, n, "a:1", true, cfg)

	ticks := make(chan uint64, 64)
	loop := NewLoop(a.Host, func(tick uint64, _ time.Time) {
		select {
		case ticks <- tick:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not tick")
	}
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestSnapshotReflectsTables(t *testing.T) {
	testlog.Start(t)
	n := memnet.NewNetwork()
	a := newTestHost(t, n, "a:1", true, DefaultConfig())
	b := newTestHost(t, n, "b:1", false, DefaultConfig())
	require.NotNil(t, a.Snapshot())
	require.Empty(t, a.Snapshot().Objects)

	ownCounter(a, kindCounter, 1)
	ownCounter(a, kindAnchor, 2)
	dial(t, b, a)
	pump(a, b)

	snap := b.Snapshot()
	require.Equal(t, b.Token().String(), snap.Token)
	require.Len(t, snap.Peers, 1)
	require.Equal(t, "a:1", snap.Peers[0].Address)
	require.Len(t, snap.Objects, 2)
	for _, o := range snap.Objects {
		require.Equal(t, "proxy", o.Role)
		require.True(t, o.OwnerConnected)
	}
	require.False(t, snap.Objects[1].Deletable)

	snap = a.Snapshot()
	require.Len(t, snap.Objects, 2)
	require.Equal(t, "owner", snap.Objects[0].Role)
	require.NotZero(t, snap.Polls)
	require.Equal(t, uint64(2), snap.IDsIssued)
	require.Zero(t, b.Snapshot().IDsIssued)
	require.NotZero(t, snap.Stats.Sent)
}

func TestConfigDefaultsAndPolicyParse(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	require.Equal(t, DefaultConfig(), cfg)

	p, err := ParseDisconnectPolicy(" Evict ")
	require.NoError(t, err)
	require.Equal(t, EvictProxies, p)
	p, err = ParseDisconnectPolicy("")
	require.NoError(t, err)
	require.Equal(t, RetainProxies, p)
	_, err = ParseDisconnectPolicy("forget")
	require.Error(t, err)

	n := memnet.NewNetwork()
	ep, err := n.Join(testIdentity("x:1"))
	require.NoError(t, err)
	_, err = NewHost(Config{DisconnectPolicy: "forget"}, ep, testCatalog())
	require.Error(t, err)
	_, err = NewHost(DefaultConfig(), ep, nil)
	require.Error(t, err)
}
