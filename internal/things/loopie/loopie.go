// Package loopie replicates recorded audio loops. A loopie is owned by the
// host that recorded it; any host may ask to mute it, change its volume or
// mark which performers are touching it, and the owner streams its live
// signal level.
package loopie

import (
	"slices"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
)

const (
	Kind distributed.Kind = 3

	MsgSetMute        distributed.MessageKind = 300
	MsgSetVolume      distributed.MessageKind = 301
	MsgSetTouchedBy   distributed.MessageKind = 302
	MsgSetSignalLevel distributed.MessageKind = 303
)

// State is the Create payload.
type State struct {
	Position  geom.Vector3
	Mute      bool
	Volume    float32
	TouchedBy []ident.ObjectID
}

func (s State) Encode(w *wire.Writer) {
	s.Position.Encode(w)
	w.Bool(s.Mute)
	w.F32(s.Volume)
	w.ObjectIDs(s.TouchedBy)
}

// DecodeState reads what Encode wrote. An empty TouchedBy comes back nil.
func DecodeState(r *wire.Reader) State {
	s := State{
		Position: geom.DecodeVector3(r),
		Mute:     r.Bool(),
		Volume:   r.F32(),
	}
	s.TouchedBy = r.ObjectIDs()
	return s
}

type Local struct {
	state   State
	level   float32
	levelAt uint64
	removed bool
}

func (l *Local) State() State {
	s := l.state
	s.TouchedBy = slices.Clone(s.TouchedBy)
	return s
}

func (l *Local) SignalLevel() (level float32, at uint64) {
	return l.level, l.levelAt
}

// Removed reports whether the loopie was torn down on this host.
func (l *Local) Removed() bool {
	return l.removed
}

type Loopie struct {
	distributed.Distributed[*Local]
}

func newPair(node *scene.Node) (*Loopie, *Local) {
	local := &Local{}
	return &Loopie{Distributed: distributed.NewDistributed(Kind, node, local, true)}, local
}

// Create builds an owned loopie at position with the given initial volume.
func Create(h *distributed.Host, node *scene.Node, position geom.Vector3, volume float32) *Loopie {
	l, local := newPair(node)
	local.state = State{Position: position, Volume: volume}
	h.InitializeOwner(l)
	return l
}

func (l *Loopie) EncodeState(w *wire.Writer) {
	l.Local().state.Encode(w)
}

func (l *Loopie) OnDelete() {
	l.Local().removed = true
}

func (l *Loopie) SetMute(mute bool) {
	distributed.RouteReliable[*Local](l, SetMute{Mute: mute})
}

func (l *Loopie) SetVolume(volume float32) {
	distributed.RouteReliable[*Local](l, SetVolume{Volume: volume})
}

func (l *Loopie) SetTouchedBy(performers []ident.ObjectID) {
	distributed.RouteReliable[*Local](l, SetTouchedBy{Performers: slices.Clone(performers)})
}

// SetSignalLevel streams the level at audio sample time at.
func (l *Loopie) SetSignalLevel(at uint64, level float32) {
	distributed.RouteBroadcast[*Local](l, SetSignalLevel{At: at, Level: level})
}

type SetMute struct{ Mute bool }

func (SetMute) MessageKind() distributed.MessageKind { return MsgSetMute }
func (m SetMute) Encode(w *wire.Writer)              { w.Bool(m.Mute) }
func (m SetMute) Apply(t *Local)                     { t.state.Mute = m.Mute }

type SetVolume struct{ Volume float32 }

func (SetVolume) MessageKind() distributed.MessageKind { return MsgSetVolume }
func (m SetVolume) Encode(w *wire.Writer)              { w.F32(m.Volume) }
func (m SetVolume) Apply(t *Local)                     { t.state.Volume = m.Volume }

type SetTouchedBy struct{ Performers []ident.ObjectID }

func (SetTouchedBy) MessageKind() distributed.MessageKind { return MsgSetTouchedBy }
func (m SetTouchedBy) Encode(w *wire.Writer)              { w.ObjectIDs(m.Performers) }
func (m SetTouchedBy) Apply(t *Local) {
	if len(m.Performers) == 0 {
		t.state.TouchedBy = nil
		return
	}
	t.state.TouchedBy = slices.Clone(m.Performers)
}

type SetSignalLevel struct {
	At    uint64
	Level float32
}

func (SetSignalLevel) MessageKind() distributed.MessageKind { return MsgSetSignalLevel }
func (m SetSignalLevel) Timestamp() uint64                  { return m.At }
func (m SetSignalLevel) Encode(w *wire.Writer)              { w.F32(m.Level) }
func (m SetSignalLevel) Apply(t *Local) {
	t.level = m.Level
	t.levelAt = m.At
}

func Register(h *distributed.Host) {
	distributed.RegisterCreate(h, Kind, DecodeState, newPair, func(l *Local, s State) { l.state = s })
	distributed.RegisterReliable[*Local, SetMute](h, MsgSetMute, func(r *wire.Reader) SetMute {
		return SetMute{Mute: r.Bool()}
	})
	distributed.RegisterReliable[*Local, SetVolume](h, MsgSetVolume, func(r *wire.Reader) SetVolume {
		return SetVolume{Volume: r.F32()}
	})
	distributed.RegisterReliable[*Local, SetTouchedBy](h, MsgSetTouchedBy, func(r *wire.Reader) SetTouchedBy {
		return SetTouchedBy{Performers: r.ObjectIDs()}
	})
	distributed.RegisterBroadcast[*Local, SetSignalLevel](h, MsgSetSignalLevel, func(r *wire.Reader, ts uint64) SetSignalLevel {
		return SetSignalLevel{At: ts, Level: r.F32()}
	})
}
