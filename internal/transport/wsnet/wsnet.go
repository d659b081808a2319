// Package wsnet carries envelopes between hosts over websocket connections.
//
// A listener mounts the peer endpoint on its HTTP server; dialers connect to
// it, exchange hello/hello.ack control messages, then send one binary message
// per envelope. Reliable sends share the per-connection FIFO with unreliable
// ones; unreliable sends are dropped instead of queued when the connection is
// backed up.
package wsnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/frame"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/session"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// PeerPath is where listeners accept peer connections.
const PeerPath = "/peer"

var (
	ErrNotListener      = errors.New("wsnet: host is not a listener")
	ErrHandshakeRefused = errors.New("wsnet: handshake refused")
)

type outMessage struct {
	data []byte
}

type peerConn struct {
	id       transport.PeerID
	ws       *websocket.Conn
	remote   transport.Identity
	send     chan outMessage
	done     chan struct{}
	doneOnce sync.Once
}

func (c *peerConn) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Transport implements transport.Transport over gorilla/websocket.
type Transport struct {
	id       transport.Identity
	cfg      session.Config
	upgrader websocket.Upgrader
	events   transport.EventQueue

	mu       sync.Mutex
	conns    map[transport.PeerID]*peerConn
	nextPeer transport.PeerID
	closed   bool
	rng      *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

func New(id transport.Identity, cfg session.Config) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		id:  id,
		cfg: cfg.WithDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:  make(map[transport.PeerID]*peerConn),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Transport) Identity() transport.Identity {
	return t.id
}

// Mount registers the peer endpoint on a gin router.
func (t *Transport) Mount(r gin.IRoutes) {
	r.GET(PeerPath, gin.WrapH(t))
}

// ServeHTTP accepts one inbound peer connection.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.id.Listener {
		http.Error(w, ErrNotListener.Error(), http.StatusForbidden)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Msgf("wsnet.Transport.ServeHTTP upgrade remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	remote, err := t.acceptHandshake(ws)
	if err != nil {
		log.Warn().Msgf("wsnet.Transport.ServeHTTP handshake remote=%s err=%v", r.RemoteAddr, err)
		_ = ws.Close()
		return
	}
	if err := t.register(ws, remote); err != nil {
		log.Warn().Msgf("wsnet.Transport.ServeHTTP register remote=%s err=%v", r.RemoteAddr, err)
		_ = ws.Close()
	}
}

func (t *Transport) acceptHandshake(ws *websocket.Conn) (transport.Identity, error) {
	_ = ws.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	_, rd, err := ws.NextReader()
	if err != nil {
		return transport.Identity{}, err
	}
	hello, err := session.ReadHello(bufio.NewReader(rd))
	if err != nil {
		t.writeAck(ws, session.HelloAck{
			Status:      session.AckStatusRejected,
			Code:        400,
			Message:     err.Error(),
			TimestampMS: uint64(time.Now().UnixMilli()),
		})
		return transport.Identity{}, err
	}
	token, _ := ident.ParseHostToken(hello.Token)
	if err := t.writeAck(ws, session.HelloAck{
		Status:      session.AckStatusAccepted,
		Message:     "welcome",
		Token:       t.id.Token.String(),
		Address:     t.id.Address.String(),
		Name:        t.id.Name,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}); err != nil {
		return transport.Identity{}, err
	}
	_ = ws.SetReadDeadline(time.Time{})
	return transport.Identity{
		Token:    token,
		Address:  ident.PeerAddress(hello.Address),
		Name:     hello.Name,
		Listener: hello.Listener,
	}, nil
}

func (t *Transport) writeAck(ws *websocket.Conn, ack session.HelloAck) error {
	_ = ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	wr, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := session.WriteHelloAck(wr, ack); err != nil {
		_ = wr.Close()
		return err
	}
	return wr.Close()
}

// Dial connects to a listener in the background, retrying with backoff up to
// MaxConnectAttempts (zero means until ctx or the transport ends).
func (t *Transport) Dial(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("wsnet: dial: empty address")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrTransportClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.wg.Done()
		t.dialLoop(ctx, address)
	}()
	return nil
}

func (t *Transport) dialLoop(ctx context.Context, address string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()
	for attempt := 1; ; attempt++ {
		ws, remote, err := t.dialOnce(ctx, address)
		if err == nil {
			if err := t.register(ws, remote); err != nil {
				log.Warn().Msgf("wsnet.Transport.Dial register address=%s err=%v", address, err)
				_ = ws.Close()
			}
			return
		}
		if errors.Is(err, ErrHandshakeRefused) {
			log.Error().Msgf("wsnet.Transport.Dial address=%s err=%v", address, err)
			return
		}
		if t.cfg.Exhausted(attempt) {
			log.Error().Msgf("wsnet.Transport.Dial giving up address=%s attempts=%d err=%v", address, attempt, err)
			return
		}
		t.mu.Lock()
		delay := t.cfg.Backoff.Delay(attempt, t.rng)
		t.mu.Unlock()
		log.Warn().Msgf("wsnet.Transport.Dial retry address=%s attempt=%d delay=%s err=%v", address, attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func peerURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	address = strings.TrimPrefix(address, "http://")
	return "ws://" + strings.TrimSuffix(address, "/") + PeerPath
}

func (t *Transport) dialOnce(ctx context.Context, address string) (*websocket.Conn, transport.Identity, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	ws, resp, err := dialer.DialContext(dialCtx, peerURL(address), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, transport.Identity{}, fmt.Errorf("%w: %s", ErrHandshakeRefused, ErrNotListener)
		}
		return nil, transport.Identity{}, err
	}

	_ = ws.SetWriteDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	wr, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		_ = ws.Close()
		return nil, transport.Identity{}, err
	}
	hello := session.Hello{
		Token:    t.id.Token.String(),
		Address:  t.id.Address.String(),
		Name:     t.id.Name,
		Listener: t.id.Listener,
		Version:  session.ProtocolVersion,
	}
	if err := session.WriteHello(wr, hello); err != nil {
		_ = ws.Close()
		return nil, transport.Identity{}, err
	}
	if err := wr.Close(); err != nil {
		_ = ws.Close()
		return nil, transport.Identity{}, err
	}

	_ = ws.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	_, rd, err := ws.NextReader()
	if err != nil {
		_ = ws.Close()
		return nil, transport.Identity{}, err
	}
	ack, err := session.ReadHelloAck(bufio.NewReader(rd))
	if err != nil {
		_ = ws.Close()
		return nil, transport.Identity{}, err
	}
	if ack.Status != session.AckStatusAccepted {
		_ = ws.Close()
		return nil, transport.Identity{}, fmt.Errorf("%w: code=%d message=%s", ErrHandshakeRefused, ack.Code, ack.Message)
	}
	_ = ws.SetReadDeadline(time.Time{})
	token, _ := ident.ParseHostToken(ack.Token)
	return ws, transport.Identity{
		Token:    token,
		Address:  ident.PeerAddress(ack.Address),
		Name:     ack.Name,
		Listener: true,
	}, nil
}

func (t *Transport) register(ws *websocket.Conn, remote transport.Identity) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrTransportClosed
	}
	t.nextPeer++
	c := &peerConn{
		id:     t.nextPeer,
		ws:     ws,
		remote: remote,
		send:   make(chan outMessage, t.cfg.SendQueueDepth),
		done:   make(chan struct{}),
	}
	t.conns[c.id] = c
	t.events.Push(transport.Event{Kind: transport.EventConnected, Peer: c.id, Remote: remote})
	t.wg.Add(2)
	t.mu.Unlock()

	log.Info().Msgf("wsnet.Transport.register peer=%d token=%s address=%s", c.id, remote.Token.Short(), remote.Address)
	go t.writePump(c)
	go t.readPump(c)
	return nil
}

func (t *Transport) readPump(c *peerConn) {
	defer t.wg.Done()

	c.ws.SetReadLimit(int64(t.cfg.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Msgf("wsnet.Transport.readPump peer=%d err=%v", c.id, err)
			}
			t.remove(c.id, err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		if kind != websocket.BinaryMessage {
			log.Warn().Msgf("wsnet.Transport.readPump peer=%d unexpected message type=%d", c.id, kind)
			continue
		}
		t.events.Push(transport.Event{Kind: transport.EventMessage, Peer: c.id, Data: data})
	}
}

func (t *Transport) writePump(c *peerConn) {
	defer t.wg.Done()
	ping := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg.data); err != nil {
				t.remove(c.id, err)
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				t.remove(c.id, err)
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.WriteTimeout),
			)
			return
		}
	}
}

// remove drops the connection and reports it once.
func (t *Transport) remove(id transport.PeerID, cause error) {
	t.mu.Lock()
	c, ok := t.conns[id]
	if ok {
		delete(t.conns, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	c.stop()
	t.events.Push(transport.Event{Kind: transport.EventDisconnected, Peer: id, Err: cause})
	log.Info().Msgf("wsnet.Transport.remove peer=%d address=%s err=%v", id, c.remote.Address, cause)
}

// Send enqueues data without blocking. Unreliable data is dropped when the
// connection's queue is full; reliable data fails with ErrQueueFull.
func (t *Transport) Send(peer transport.PeerID, data []byte, delivery transport.Delivery) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrTransportClosed
	}
	c, ok := t.conns[peer]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peer)
	}
	select {
	case c.send <- outMessage{data: data}:
		return nil
	default:
	}
	if delivery == transport.Unreliable {
		log.Debug().Msgf("wsnet.Transport.Send dropped unreliable peer=%d bytes=%d", peer, len(data))
		return nil
	}
	return fmt.Errorf("%w: peer=%d", transport.ErrQueueFull, peer)
}

// Disconnect closes one connection; both sides observe EventDisconnected.
func (t *Transport) Disconnect(peer transport.PeerID) error {
	t.mu.Lock()
	_, ok := t.conns[peer]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peer)
	}
	t.remove(peer, nil)
	return nil
}

func (t *Transport) Poll() []transport.Event {
	return t.events.Drain()
}

// Close stops dialing, closes every connection and waits for I/O goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ids := make([]transport.PeerID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	t.cancel()
	for _, id := range ids {
		t.remove(id, transport.ErrTransportClosed)
	}
	t.wg.Wait()
	return nil
}
