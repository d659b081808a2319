// Package viewpoint is the session-identity object owned by the listener. It
// lists the players the listener tracks and correlates each one with the
// peer whose performer it drives. It cannot be deleted.
package viewpoint

import (
	"slices"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
)

const (
	Kind distributed.Kind = 1

	MsgUpdatePlayer distributed.MessageKind = 100
	MsgSetTransform distributed.MessageKind = 101
)

type PlayerID uint8

type Tracking uint8

const (
	NotTracked Tracking = iota
	Tracked
)

// Player is one tracked user. PerformerHost is the address of the peer that
// owns this player's performer; it is empty until correlated.
type Player struct {
	ID            PlayerID
	Tracking      Tracking
	PerformerHost ident.PeerAddress
	Head          geom.Vector3
	LeftHand      geom.Vector3
	RightHand     geom.Vector3
}

func (p Player) Encode(w *wire.Writer) {
	w.U8(uint8(p.ID))
	w.U8(uint8(p.Tracking))
	w.Address(p.PerformerHost)
	p.Head.Encode(w)
	p.LeftHand.Encode(w)
	p.RightHand.Encode(w)
}

func DecodePlayer(r *wire.Reader) Player {
	return Player{
		ID:            PlayerID(r.U8()),
		Tracking:      Tracking(r.U8()),
		PerformerHost: r.Address(),
		Head:          geom.DecodeVector3(r),
		LeftHand:      geom.DecodeVector3(r),
		RightHand:     geom.DecodeVector3(r),
	}
}

// State is the Create payload.
type State struct {
	Transform geom.Matrix4x4
	Players   []Player
}

func (s State) Encode(w *wire.Writer) {
	s.Transform.Encode(w)
	w.Count(len(s.Players))
	for _, p := range s.Players {
		p.Encode(w)
	}
}

func DecodeState(r *wire.Reader) State {
	s := State{Transform: geom.DecodeMatrix4x4(r)}
	n := r.Count()
	for i := 0; i < n && r.Err() == nil; i++ {
		s.Players = append(s.Players, DecodePlayer(r))
	}
	return s
}

// Local holds the viewpoint state on one host.
type Local struct {
	transform geom.Matrix4x4
	players   []Player
}

func NewLocal() *Local {
	return &Local{transform: geom.Identity()}
}

// UpdatePlayer replaces the player with the same id or appends a new one.
func (l *Local) UpdatePlayer(p Player) {
	for i := range l.players {
		if l.players[i].ID == p.ID {
			l.players[i] = p
			return
		}
	}
	l.players = append(l.players, p)
	slices.SortFunc(l.players, func(a, b Player) int { return int(a.ID) - int(b.ID) })
}

func (l *Local) SetTransform(m geom.Matrix4x4) {
	l.transform = m
}

func (l *Local) Transform() geom.Matrix4x4 {
	return l.transform
}

func (l *Local) Players() []Player {
	return slices.Clone(l.players)
}

func (l *Local) Player(id PlayerID) (Player, bool) {
	for _, p := range l.players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// FindPlayerByAddress returns the player whose performer runs on addr.
func (l *Local) FindPlayerByAddress(addr ident.PeerAddress) (Player, bool) {
	if addr.IsZero() {
		return Player{}, false
	}
	for _, p := range l.players {
		if p.PerformerHost == addr {
			return p, true
		}
	}
	return Player{}, false
}

func (l *Local) state() State {
	return State{Transform: l.transform, Players: l.Players()}
}

func (l *Local) load(s State) {
	l.transform = s.Transform
	l.players = nil
	for _, p := range s.Players {
		l.UpdatePlayer(p)
	}
}

// Viewpoint is the distributed wrapper.
type Viewpoint struct {
	distributed.Distributed[*Local]
}

func newPair(node *scene.Node) (*Viewpoint, *Local) {
	local := NewLocal()
	return &Viewpoint{Distributed: distributed.NewDistributed(Kind, node, local, false)}, local
}

// Create builds an owned viewpoint on h.
func Create(h *distributed.Host, node *scene.Node, transform geom.Matrix4x4) *Viewpoint {
	v, local := newPair(node)
	local.transform = transform
	h.InitializeOwner(v)
	return v
}

func (v *Viewpoint) EncodeState(w *wire.Writer) {
	v.Local().state().Encode(w)
}

func (v *Viewpoint) UpdatePlayer(p Player) {
	distributed.RouteReliable[*Local](v, UpdatePlayer{Player: p})
}

func (v *Viewpoint) SetTransform(m geom.Matrix4x4) {
	distributed.RouteReliable[*Local](v, SetTransform{Transform: m})
}

func (v *Viewpoint) Players() []Player {
	return v.Local().Players()
}

func (v *Viewpoint) FindPlayerByAddress(addr ident.PeerAddress) (Player, bool) {
	return v.Local().FindPlayerByAddress(addr)
}

type UpdatePlayer struct {
	Player Player
}

func (UpdatePlayer) MessageKind() distributed.MessageKind { return MsgUpdatePlayer }
func (m UpdatePlayer) Encode(w *wire.Writer)              { m.Player.Encode(w) }
func (m UpdatePlayer) Apply(t *Local)                     { t.UpdatePlayer(m.Player) }

type SetTransform struct {
	Transform geom.Matrix4x4
}

func (SetTransform) MessageKind() distributed.MessageKind { return MsgSetTransform }
func (m SetTransform) Encode(w *wire.Writer)              { m.Transform.Encode(w) }
func (m SetTransform) Apply(t *Local)                     { t.SetTransform(m.Transform) }

// Register wires the viewpoint kind and its messages into h.
func Register(h *distributed.Host) {
	distributed.RegisterCreate(h, Kind, DecodeState, newPair, (*Local).load)
	distributed.RegisterReliable[*Local, UpdatePlayer](h, MsgUpdatePlayer, func(r *wire.Reader) UpdatePlayer {
		return UpdatePlayer{Player: DecodePlayer(r)}
	})
	distributed.RegisterReliable[*Local, SetTransform](h, MsgSetTransform, func(r *wire.Reader) SetTransform {
		return SetTransform{Transform: geom.DecodeMatrix4x4(r)}
	})
}
