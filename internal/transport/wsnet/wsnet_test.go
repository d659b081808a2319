package wsnet

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/session"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/loopie"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg
}

// startListener serves a listener transport through a gin engine.
func startListener(t *testing.T) (*Transport, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewUnstartedServer(nil)
	addr := srv.Listener.Addr().String()
	tr := New(transport.Identity{
		Token:    ident.NewHostToken(),
		Address:  ident.PeerAddress(addr),
		Name:     "listener",
		Listener: true,
	}, testConfig())
	engine := gin.New()
	tr.Mount(engine)
	srv.Config.Handler = engine
	srv.Start()
	t.Cleanup(func() {
		tr.Close()
		srv.Close()
	})
	return tr, srv
}

func newDialer(t *testing.T, name string) *Transport {
	t.Helper()
	tr := New(transport.Identity{
		Token:   ident.NewHostToken(),
		Address: ident.PeerAddress(name + ":0"),
		Name:    name,
	}, testConfig())
	t.Cleanup(func() { tr.Close() })
	return tr
}

func serverAddr(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// waitEvents polls tr until n events arrive or the deadline passes.
func waitEvents(t *testing.T, tr transport.Transport, n int) []transport.Event {
	t.Helper()
	var out []transport.Event
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		out = append(out, tr.Poll()...)
		if len(out) < n {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if len(out) < n {
		t.Fatalf("got %d events, want %d: %+v", len(out), n, out)
	}
	return out
}

func TestHandshakeExchangesIdentities(t *testing.T) {
	testlog.Start(t)
	listener, srv := startListener(t)
	dialer := newDialer(t, "headset")

	require.NoError(t, dialer.Dial(context.Background(), serverAddr(srv)))

	onListener := waitEvents(t, listener, 1)[0]
	require.Equal(t, transport.EventConnected, onListener.Kind)
	require.Equal(t, dialer.Identity().Token, onListener.Remote.Token)
	require.Equal(t, "headset", onListener.Remote.Name)
	require.False(t, onListener.Remote.Listener)

	onDialer := waitEvents(t, dialer, 1)[0]
	require.Equal(t, transport.EventConnected, onDialer.Kind)
	require.Equal(t, listener.Identity().Token, onDialer.Remote.Token)
	require.Equal(t, listener.Identity().Address, onDialer.Remote.Address)
	require.True(t, onDialer.Remote.Listener)
}

func TestMessagesFlowInOrderBothWays(t *testing.T) {
	testlog.Start(t)
	listener, srv := startListener(t)
	dialer := newDialer(t, "headset")
	require.NoError(t, dialer.Dial(context.Background(), serverAddr(srv)))
	lp := waitEvents(t, listener, 1)[0].Peer
	dp := waitEvents(t, dialer, 1)[0].Peer

	for i := byte(0); i < 10; i++ {
		require.NoError(t, dialer.Send(dp, []byte{i}, transport.ReliableOrdered))
	}
	events := waitEvents(t, listener, 10)
	for i, ev := range events {
		require.Equal(t, transport.EventMessage, ev.Kind)
		require.Equal(t, []byte{byte(i)}, ev.Data)
	}

	require.NoError(t, listener.Send(lp, []byte("pong"), transport.Unreliable))
	ev := waitEvents(t, dialer, 1)[0]
	require.Equal(t, []byte("pong"), ev.Data)

	require.ErrorIs(t, dialer.Send(999, nil, transport.ReliableOrdered), transport.ErrUnknownPeer)
}

func TestDisconnectReachesOtherSide(t *testing.T) {
	testlog.Start(t)
	listener, srv := startListener(t)
	dialer := newDialer(t, "headset")
	require.NoError(t, dialer.Dial(context.Background(), serverAddr(srv)))
	lp := waitEvents(t, listener, 1)[0].Peer
	waitEvents(t, dialer, 1)

	require.NoError(t, listener.Disconnect(lp))
	require.Equal(t, transport.EventDisconnected, waitEvents(t, listener, 1)[0].Kind)
	require.Equal(t, transport.EventDisconnected, waitEvents(t, dialer, 1)[0].Kind)
}

func TestNonListenerRefusesPeers(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	tr := newDialer(t, "plain")
	engine := gin.New()
	tr.Mount(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+serverAddr(srv)+PeerPath, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 403, resp.StatusCode)
}

func TestBadHelloRejected(t *testing.T) {
	testlog.Start(t)
	listener, srv := startListener(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+serverAddr(srv)+PeerPath, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"host.hello","hello":{"token":"bad","version":1}}`+"\n")))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), session.AckStatusRejected)

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, listener.Poll())
}

func TestPeerURL(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, "ws://10.0.0.1:9400/peer", peerURL("10.0.0.1:9400"))
	require.Equal(t, "ws://10.0.0.1:9400/peer", peerURL("http://10.0.0.1:9400/"))
	require.Equal(t, "wss://x/peer", peerURL("wss://x/peer"))
}

func TestHostsReplicateOverWebsocket(t *testing.T) {
	testlog.Start(t)
	listenerTr, srv := startListener(t)
	dialerTr := newDialer(t, "headset")

	desk, err := distributed.NewHost(distributed.DefaultConfig(), listenerTr, things.Catalog())
	require.NoError(t, err)
	things.RegisterAll(desk)
	head, err := distributed.NewHost(distributed.DefaultConfig(), dialerTr, things.Catalog())
	require.NoError(t, err)
	things.RegisterAll(head)

	loop := loopie.Create(desk, nil, geom.Vector3{X: 1}, 0.5)
	require.NoError(t, head.Dial(context.Background(), serverAddr(srv)))

	var proxy *loopie.Loopie
	eventually(t, func() bool {
		desk.PollEvents()
		head.PollEvents()
		if obj, ok := head.Lookup(loop.ID()); ok {
			proxy = obj.(*loopie.Loopie)
			return true
		}
		return false
	})

	proxy.SetVolume(0.9)
	eventually(t, func() bool {
		head.PollEvents()
		desk.PollEvents()
		return proxy.Local().State().Volume == 0.9 && loop.Local().State().Volume == 0.9
	})
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
