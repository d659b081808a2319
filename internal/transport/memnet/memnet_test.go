package memnet

import (
	"context"
	"errors"
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/stretchr/testify/require"
)

func join(t *testing.T, n *Network, addr string, listener bool) *Endpoint {
	t.Helper()
	ep, err := n.Join(transport.Identity{
		Token:    ident.NewHostToken(),
		Address:  ident.PeerAddress(addr),
		Listener: listener,
	})
	require.NoError(t, err)
	return ep
}

func connectedPeer(t *testing.T, ep *Endpoint) transport.PeerID {
	t.Helper()
	events := ep.Poll()
	require.Len(t, events, 1)
	require.Equal(t, transport.EventConnected, events[0].Kind)
	return events[0].Peer
}

func TestDialRequiresListener(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	a := join(t, n, "a:1", false)
	join(t, n, "b:1", false)

	err := a.Dial(context.Background(), "b:1")
	require.True(t, errors.Is(err, ErrNoListener), "got %v", err)
	err = a.Dial(context.Background(), "missing:1")
	require.True(t, errors.Is(err, ErrNoListener), "got %v", err)
}

func TestJoinRejectsDuplicateAddress(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	join(t, n, "a:1", true)
	_, err := n.Join(transport.Identity{Token: ident.NewHostToken(), Address: "a:1"})
	require.ErrorIs(t, err, ErrAddressInUse)
}

func TestReliableSendsArriveInOrder(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	listener := join(t, n, "l:1", true)
	dialer := join(t, n, "d:1", false)
	require.NoError(t, dialer.Dial(context.Background(), "l:1"))

	lp := connectedPeer(t, listener)
	dp := connectedPeer(t, dialer)

	for i := byte(0); i < 5; i++ {
		require.NoError(t, dialer.Send(dp, []byte{i}, transport.ReliableOrdered))
	}
	events := listener.Poll()
	require.Len(t, events, 5)
	for i, ev := range events {
		require.Equal(t, transport.EventMessage, ev.Kind)
		require.Equal(t, lp, ev.Peer)
		require.Equal(t, []byte{byte(i)}, ev.Data)
	}
}

func TestConnectedCarriesRemoteIdentity(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	listener := join(t, n, "l:1", true)
	dialer := join(t, n, "d:1", false)
	require.NoError(t, dialer.Dial(context.Background(), "l:1"))

	ev := listener.Poll()[0]
	require.Equal(t, dialer.Identity().Token, ev.Remote.Token)
	require.Equal(t, ident.PeerAddress("d:1"), ev.Remote.Address)

	ev = dialer.Poll()[0]
	require.Equal(t, listener.Identity().Token, ev.Remote.Token)
	require.True(t, ev.Remote.Listener)
}

func TestHeldUnreliableReleasedInReverse(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	listener := join(t, n, "l:1", true)
	dialer := join(t, n, "d:1", false)
	require.NoError(t, dialer.Dial(context.Background(), "l:1"))
	connectedPeer(t, listener)
	dp := connectedPeer(t, dialer)

	n.HoldUnreliable(true)
	require.NoError(t, dialer.Send(dp, []byte("first"), transport.Unreliable))
	require.NoError(t, dialer.Send(dp, []byte("second"), transport.Unreliable))
	require.NoError(t, dialer.Send(dp, []byte("reliable"), transport.ReliableOrdered))

	events := listener.Poll()
	require.Len(t, events, 1)
	require.Equal(t, []byte("reliable"), events[0].Data)

	require.Equal(t, 2, n.ReleaseHeld(true))
	events = listener.Poll()
	require.Len(t, events, 2)
	require.Equal(t, []byte("second"), events[0].Data)
	require.Equal(t, []byte("first"), events[1].Data)
}

func TestDropUnreliable(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	listener := join(t, n, "l:1", true)
	dialer := join(t, n, "d:1", false)
	require.NoError(t, dialer.Dial(context.Background(), "l:1"))
	connectedPeer(t, listener)
	dp := connectedPeer(t, dialer)

	n.DropUnreliable(true)
	require.NoError(t, dialer.Send(dp, []byte("lost"), transport.Unreliable))
	require.Empty(t, listener.Poll())
}

func TestDisconnectAndCloseNotifyBothSides(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork()
	listener := join(t, n, "l:1", true)
	dialer := join(t, n, "d:1", false)
	require.NoError(t, dialer.Dial(context.Background(), "l:1"))
	lp := connectedPeer(t, listener)
	dp := connectedPeer(t, dialer)

	require.NoError(t, dialer.Disconnect(dp))
	require.Equal(t, transport.EventDisconnected, listener.Poll()[0].Kind)
	require.Equal(t, transport.EventDisconnected, dialer.Poll()[0].Kind)
	require.ErrorIs(t, listener.Send(lp, []byte("x"), transport.ReliableOrdered), transport.ErrUnknownPeer)

	require.NoError(t, dialer.Dial(context.Background(), "l:1"))
	connectedPeer(t, listener)
	connectedPeer(t, dialer)
	require.NoError(t, listener.Close())
	events := dialer.Poll()
	require.Len(t, events, 1)
	require.Equal(t, transport.EventDisconnected, events[0].Kind)
	require.ErrorIs(t, listener.Send(lp, nil, transport.ReliableOrdered), transport.ErrTransportClosed)
}
