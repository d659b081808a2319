package distributed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/observability"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/envelope"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/schema"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type proxyKey struct {
	peer transport.PeerID
	id   ident.ObjectID
}

type outbound struct {
	env     envelope.Envelope
	targets []*Peer
}

// Stats counts envelope traffic since the host was created.
type Stats struct {
	Sent     uint64            `json:"sent"`
	Received uint64            `json:"received"`
	Stale    uint64            `json:"stale"`
	Dropped  map[string]uint64 `json:"dropped"`
}

// Host is one replication session: allocator, peers, owned and proxy tables,
// registered kinds and the outbound queue in front of a transport.
type Host struct {
	cfg      Config
	tr       transport.Transport
	factory  scene.Factory
	identity transport.Identity
	alloc    *ident.Allocator
	label    string
	log      zerolog.Logger

	peers   map[transport.PeerID]*Peer
	owned   map[ident.ObjectID]Object
	proxies map[proxyKey]Object
	byID    map[ident.ObjectID]proxyKey

	creates    map[Kind]createHandler
	reliables  map[MessageKind]applyHandler
	broadcasts map[MessageKind]applyHandler

	queue     []outbound
	messageID uint64
	limiter   *rate.Limiter

	onConnected    []func(*Peer)
	onDisconnected []func(*Peer)
	onProxyCreated []func(Object)
	onDeleted      []func(Object)

	polls    uint64
	stats    Stats
	snapshot atomic.Pointer[Snapshot]
}

// NewHost binds a host to a transport. The transport identity token becomes
// the owner token of every object this host creates.
func NewHost(cfg Config, tr transport.Transport, factory scene.Factory) (*Host, error) {
	if tr == nil {
		return nil, errors.New("distributed: nil transport")
	}
	if factory == nil {
		return nil, errors.New("distributed: nil factory")
	}
	id := tr.Identity()
	if id.Token.IsZero() {
		return nil, errors.New("distributed: transport identity has no token")
	}
	cfg = cfg.WithDefaults()
	if _, err := ParseDisconnectPolicy(string(cfg.DisconnectPolicy)); err != nil {
		return nil, err
	}
	h := &Host{
		cfg:        cfg,
		tr:         tr,
		factory:    factory,
		identity:   id,
		alloc:      ident.NewAllocator(id.Token),
		label:      id.Token.Short(),
		peers:      make(map[transport.PeerID]*Peer),
		owned:      make(map[ident.ObjectID]Object),
		proxies:    make(map[proxyKey]Object),
		byID:       make(map[ident.ObjectID]proxyKey),
		creates:    make(map[Kind]createHandler),
		reliables:  make(map[MessageKind]applyHandler),
		broadcasts: make(map[MessageKind]applyHandler),
		stats:      Stats{Dropped: make(map[string]uint64)},
	}
	h.log = log.With().Str("host", h.label).Str("name", cfg.Name).Logger()
	if cfg.BroadcastRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.BroadcastRate), cfg.BroadcastBurst)
	}
	h.publishSnapshot()
	h.log.Info().Msgf("distributed.NewHost token=%s address=%s listener=%t", id.Token, id.Address, id.Listener)
	return h, nil
}

func (h *Host) Token() ident.HostToken { return h.identity.Token }

func (h *Host) Identity() transport.Identity { return h.identity }

func (h *Host) Config() Config { return h.cfg }

// Label is the short token used in logs and metric labels.
func (h *Host) Label() string { return h.label }

func (h *Host) Stats() Stats {
	out := h.stats
	out.Dropped = make(map[string]uint64, len(h.stats.Dropped))
	for k, v := range h.stats.Dropped {
		out.Dropped[k] = v
	}
	return out
}

// Dial asks the transport to connect to a listener. The peer appears on a
// later PollEvents.
func (h *Host) Dial(ctx context.Context, address string) error {
	return h.tr.Dial(ctx, address)
}

func (h *Host) OnPeerConnected(fn func(*Peer)) { h.onConnected = append(h.onConnected, fn) }

func (h *Host) OnPeerDisconnected(fn func(*Peer)) { h.onDisconnected = append(h.onDisconnected, fn) }

func (h *Host) OnProxyCreated(fn func(Object)) { h.onProxyCreated = append(h.onProxyCreated, fn) }

// OnObjectDeleted fires after an owned object or a proxy is torn down locally.
func (h *Host) OnObjectDeleted(fn func(Object)) { h.onDeleted = append(h.onDeleted, fn) }

// Peers returns connected peers ordered by transport id.
func (h *Host) Peers() []*Peer {
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Peer) int { return cmp.Compare(uint64(a.ID), uint64(b.ID)) })
	return out
}

// PeerByToken finds a connected peer by host token.
func (h *Host) PeerByToken(token ident.HostToken) (*Peer, bool) {
	for _, p := range h.peers {
		if p.Token == token {
			return p, true
		}
	}
	return nil, false
}

// Owned returns locally owned objects ordered by id sequence.
func (h *Host) Owned() []Object {
	out := make([]Object, 0, len(h.owned))
	for _, obj := range h.owned {
		out = append(out, obj)
	}
	sortObjects(out)
	return out
}

// Proxies returns proxy objects, including ones retained after their owner
// disconnected.
func (h *Host) Proxies() []Object {
	out := make([]Object, 0, len(h.proxies))
	for _, obj := range h.proxies {
		out = append(out, obj)
	}
	sortObjects(out)
	return out
}

// Lookup resolves an id to the owned object or the proxy holding it.
func (h *Host) Lookup(id ident.ObjectID) (Object, bool) {
	if id.Owner == h.identity.Token {
		obj, ok := h.owned[id]
		return obj, ok
	}
	key, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	obj, ok := h.proxies[key]
	return obj, ok
}

// InitializeOwner makes this host authoritative for obj: it allocates an id,
// records obj in the owned table and queues a Create to every connected peer.
func (h *Host) InitializeOwner(obj Object) {
	c := obj.core()
	if c.initialized {
		contractViolation("InitializeOwner", "object %s already initialized", c.id)
	}
	if c.owner != nil {
		contractViolation("InitializeOwner", "object already owned by %s", c.owner)
	}
	c.host = h
	c.self = obj
	c.id = h.alloc.Next()
	c.initialized = true
	h.owned[c.id] = obj
	h.log.Debug().Msgf("distributed.Host.InitializeOwner id=%s kind=%d", c.id, c.kind)
	h.enqueueAll(createEnvelope(obj))
}

// InitializeProxy records owner and id on obj and files it in the proxy
// table. It sends nothing; it runs in response to an inbound Create.
func (h *Host) InitializeProxy(obj Object, owner *Peer, id ident.ObjectID) {
	c := obj.core()
	if owner == nil {
		contractViolation("InitializeProxy", "nil owner for %s", id)
	}
	if id.IsZero() {
		contractViolation("InitializeProxy", "uninitialized id from %s", owner)
	}
	if c.initialized {
		contractViolation("InitializeProxy", "object %s already initialized", c.id)
	}
	if id.Owner == h.identity.Token {
		contractViolation("InitializeProxy", "id %s is owned by this host", id)
	}
	key := proxyKey{peer: owner.ID, id: id}
	if _, ok := h.proxies[key]; ok {
		contractViolation("InitializeProxy", "proxy %s from %s already registered", id, owner)
	}
	c.host = h
	c.self = obj
	c.id = id
	c.owner = owner
	c.initialized = true
	h.proxies[key] = obj
	h.byID[id] = key
}

// Delete is Object.Delete for callers holding only the interface.
func (h *Host) Delete(obj Object) {
	obj.core().mustBeLive("Delete")
	h.deleteObject(obj)
}

func (h *Host) deleteObject(obj Object) {
	c := obj.core()
	if c.owner != nil {
		h.enqueueToOwner(c.owner, envelope.NewDelete(c.id, true))
		return
	}
	if !c.deletable {
		h.log.Debug().Msgf("distributed.Host.Delete ignored id=%s kind=%d reason=non-deletable", c.id, c.kind)
		return
	}
	h.teardown(obj)
	h.enqueueAll(envelope.NewDelete(c.id, false))
}

func (h *Host) teardown(obj Object) {
	c := obj.core()
	if c.owner == nil {
		delete(h.owned, c.id)
	} else {
		key := proxyKey{peer: c.owner.ID, id: c.id}
		delete(h.proxies, key)
		if h.byID[c.id] == key {
			delete(h.byID, c.id)
		}
	}
	c.deleted = true
	if d, ok := obj.(interface{ OnDelete() }); ok {
		d.OnDelete()
	}
	for _, fn := range h.onDeleted {
		fn(obj)
	}
	h.log.Debug().Msgf("distributed.Host.teardown id=%s kind=%d", c.id, c.kind)
}

// PollEvents flushes queued envelopes, applies every buffered transport event,
// then flushes again so replies and fan-out leave in the same poll.
func (h *Host) PollEvents() {
	start := time.Now()
	h.flush()
	for _, ev := range h.tr.Poll() {
		h.handleEvent(ev)
	}
	h.flush()
	h.polls++
	h.publishSnapshot()
	observability.ObservePoll(h.label, time.Since(start))
}

// Close flushes pending envelopes and closes the transport.
func (h *Host) Close() error {
	h.flush()
	h.log.Info().Msg("distributed.Host.Close")
	return h.tr.Close()
}

func (h *Host) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		h.handleConnected(ev)
	case transport.EventDisconnected:
		h.handleDisconnected(ev)
	case transport.EventMessage:
		h.handleMessage(ev)
	default:
		h.log.Warn().Msgf("distributed.Host.handleEvent unknown kind=%d peer=%d", ev.Kind, ev.Peer)
	}
}

func (h *Host) handleConnected(ev transport.Event) {
	remote := ev.Remote
	if remote.Token == h.identity.Token {
		h.log.Warn().Msgf("distributed.Host.connected self-connection peer=%d ignored", ev.Peer)
		return
	}
	if existing, ok := h.PeerByToken(remote.Token); ok {
		h.log.Warn().Msgf("distributed.Host.connected duplicate token=%s existing=%d new=%d ignored", remote.Token.Short(), existing.ID, ev.Peer)
		return
	}
	p := &Peer{
		ID:          ev.Peer,
		Token:       remote.Token,
		Address:     remote.Address,
		Name:        remote.Name,
		Listener:    remote.Listener,
		ConnectedAt: time.Now(),
		connected:   true,
	}
	h.evictOrphans(remote.Token)
	h.peers[p.ID] = p
	observability.SetPeerCount(h.label, len(h.peers))
	h.log.Info().Msgf("distributed.Host.connected %s name=%s listener=%t owned=%d", p, p.Name, p.Listener, len(h.owned))

	for _, obj := range h.Owned() {
		h.enqueue(createEnvelope(obj), []*Peer{p})
	}
	for _, fn := range h.onConnected {
		fn(p)
	}
}

// evictOrphans drops proxies retained from an earlier session of token; the
// reconnecting owner re-sends Creates for whatever still exists.
func (h *Host) evictOrphans(token ident.HostToken) {
	var orphans []Object
	for key, obj := range h.proxies {
		if key.id.Owner == token && !obj.core().owner.connected {
			orphans = append(orphans, obj)
		}
	}
	sortObjects(orphans)
	for _, obj := range orphans {
		h.teardown(obj)
	}
	if len(orphans) > 0 {
		h.log.Info().Msgf("distributed.Host.evictOrphans token=%s count=%d", token.Short(), len(orphans))
	}
}

func (h *Host) handleDisconnected(ev transport.Event) {
	p, ok := h.peers[ev.Peer]
	if !ok {
		return
	}
	delete(h.peers, ev.Peer)
	p.connected = false
	observability.SetPeerCount(h.label, len(h.peers))

	var theirs []Object
	for key, obj := range h.proxies {
		if key.peer == p.ID {
			theirs = append(theirs, obj)
		}
	}
	if h.cfg.DisconnectPolicy == EvictProxies {
		sortObjects(theirs)
		for _, obj := range theirs {
			h.teardown(obj)
		}
	}
	h.log.Info().Msgf("distributed.Host.disconnected %s policy=%s proxies=%d err=%v", p, h.cfg.DisconnectPolicy, len(theirs), ev.Err)
	for _, fn := range h.onDisconnected {
		fn(p)
	}
}

func (h *Host) handleMessage(ev transport.Event) {
	p, ok := h.peers[ev.Peer]
	if !ok {
		h.drop(fmt.Errorf("%w: %d", ErrUnknownPeer, ev.Peer), nil, nil)
		return
	}
	env, err := envelope.DecodeBytes(ev.Data, h.cfg.Limits)
	if err != nil {
		h.drop(fmt.Errorf("%w: %v", ErrMalformed, err), p, nil)
		return
	}
	h.stats.Received++
	observability.RecordEnvelopeReceived(h.label, env.TypeName())
	if err := h.dispatch(p, env); err != nil {
		h.drop(err, p, &env)
	}
}

func (h *Host) dispatch(p *Peer, env envelope.Envelope) error {
	switch env.Type {
	case schema.MsgCreate:
		return h.applyCreate(p, env)
	case schema.MsgDelete:
		return h.applyDelete(p, env)
	case schema.MsgReliable:
		handler, ok := h.reliables[MessageKind(env.Kind)]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownMessageKind, env.Kind)
		}
		obj, err := h.resolve(p, env)
		if err != nil {
			return err
		}
		return handler(obj, env)
	case schema.MsgBroadcast:
		handler, ok := h.broadcasts[MessageKind(env.Kind)]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownMessageKind, env.Kind)
		}
		obj, err := h.resolve(p, env)
		if err != nil {
			return err
		}
		return handler(obj, env)
	default:
		return fmt.Errorf("%w: type=%d", ErrMalformed, env.Type)
	}
}

// resolve finds the object an envelope from p addresses. Requests must target
// an object this host owns; everything else must come from the object's owner.
func (h *Host) resolve(p *Peer, env envelope.Envelope) (Object, error) {
	if env.IsRequest {
		if env.ID.Owner != h.identity.Token {
			return nil, fmt.Errorf("%w: %s", ErrNotOwner, env.ID)
		}
		obj, ok := h.owned[env.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownObject, env.ID)
		}
		return obj, nil
	}
	if env.ID.Owner != p.Token {
		return nil, fmt.Errorf("%w: %s from %s", ErrNotFromOwner, env.ID, p)
	}
	obj, ok := h.proxies[proxyKey{peer: p.ID, id: env.ID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, env.ID)
	}
	return obj, nil
}

func (h *Host) applyCreate(p *Peer, env envelope.Envelope) error {
	if env.ID.Owner != p.Token {
		return fmt.Errorf("%w: create %s from %s", ErrNotFromOwner, env.ID, p)
	}
	if _, ok := h.proxies[proxyKey{peer: p.ID, id: env.ID}]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCreate, env.ID)
	}
	handler, ok := h.creates[Kind(env.Kind)]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
	obj, err := handler(p, env)
	if err != nil {
		return err
	}
	h.log.Debug().Msgf("distributed.Host.applyCreate id=%s kind=%d owner=%s", env.ID, env.Kind, p)
	for _, fn := range h.onProxyCreated {
		fn(obj)
	}
	return nil
}

func (h *Host) applyDelete(p *Peer, env envelope.Envelope) error {
	obj, err := h.resolve(p, env)
	if err != nil {
		return err
	}
	if env.IsRequest {
		h.deleteObject(obj)
		return nil
	}
	h.teardown(obj)
	return nil
}

func (h *Host) drop(err error, p *Peer, env *envelope.Envelope) {
	reason := dropReason(err)
	h.stats.Dropped[reason]++
	observability.RecordEnvelopeDropped(h.label, reason)
	ev := h.log.Warn().Str("reason", reason)
	if p != nil {
		ev = ev.Stringer("peer", p)
	}
	if env != nil {
		ev = ev.Stringer("envelope", env)
	}
	ev.Msgf("distributed.Host.drop err=%v", err)
}

func (h *Host) noteStale(id ident.ObjectID, kind MessageKind, ts uint64) {
	h.stats.Stale++
	observability.RecordStaleBroadcast(h.label)
	h.log.Trace().Msgf("distributed.Host.stale id=%s kind=%d ts=%d", id, kind, ts)
}

func (h *Host) enqueue(env envelope.Envelope, targets []*Peer) {
	if len(targets) == 0 {
		return
	}
	h.queue = append(h.queue, outbound{env: env, targets: targets})
}

// enqueueAll addresses env to the peers connected right now.
func (h *Host) enqueueAll(env envelope.Envelope) {
	h.enqueue(env, h.Peers())
}

func (h *Host) enqueueToOwner(owner *Peer, env envelope.Envelope) {
	if !owner.connected {
		h.drop(fmt.Errorf("%w: %s", ErrOwnerDisconnected, owner), owner, &env)
		return
	}
	h.enqueue(env, []*Peer{owner})
}

func (h *Host) enqueueBroadcast(env envelope.Envelope) {
	if len(h.peers) == 0 {
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.drop(ErrThrottled, nil, &env)
		return
	}
	h.enqueueAll(env)
}

func (h *Host) flush() {
	if len(h.queue) == 0 {
		return
	}
	queue := h.queue
	h.queue = nil
	for _, out := range queue {
		h.messageID++
		data, err := envelope.Encode(h.messageID, out.env, h.cfg.Limits)
		if err != nil {
			h.drop(fmt.Errorf("%w: encode: %v", ErrMalformed, err), nil, &out.env)
			continue
		}
		delivery := transport.ReliableOrdered
		if out.env.Unreliable() {
			delivery = transport.Unreliable
		}
		for _, p := range out.targets {
			if !p.connected {
				continue
			}
			if err := h.tr.Send(p.ID, data, delivery); err != nil {
				h.drop(fmt.Errorf("%w: %v", ErrSendFailed, err), p, &out.env)
				if delivery == transport.ReliableOrdered {
					h.sever(p)
				}
				continue
			}
			h.stats.Sent++
			observability.RecordEnvelopeSent(h.label, out.env.TypeName())
		}
	}
}

// sever closes a peer whose reliable stream lost an envelope. Nothing more is
// sent to it in this flush; the Disconnected event applies the disconnect
// policy and a reconnect resyncs its proxies through fresh Creates.
func (h *Host) sever(p *Peer) {
	p.connected = false
	if err := h.tr.Disconnect(p.ID); err != nil {
		h.log.Warn().Msgf("distributed.Host.sever %s err=%v", p, err)
		return
	}
	h.log.Warn().Msgf("distributed.Host.sever %s reliable stream broken", p)
}

func createEnvelope(obj Object) envelope.Envelope {
	w := wire.NewWriter()
	obj.EncodeState(w)
	return envelope.NewCreate(obj.ID(), uint16(obj.Kind()), w.Bytes())
}

func sortObjects(objs []Object) {
	slices.SortFunc(objs, func(a, b Object) int {
		ia, ib := a.ID(), b.ID()
		if c := slices.Compare(ia.Owner.Bytes(), ib.Owner.Bytes()); c != 0 {
			return c
		}
		return cmp.Compare(ia.Seq, ib.Seq)
	})
}
