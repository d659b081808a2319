// Package performer replicates each host's live performer pose. Every host
// owns exactly one and streams it as broadcast telemetry.
package performer

import (
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
)

const (
	Kind distributed.Kind = 2

	MsgUpdatePerformer distributed.MessageKind = 200
)

type HandPose uint8

const (
	HandUnknown HandPose = iota
	HandOpen
	HandClosed
	HandPointing
)

// Pose is the full performer state, sent whole on every update.
type Pose struct {
	Head      geom.Vector3
	LeftHand  geom.Vector3
	RightHand geom.Vector3
	LeftPose  HandPose
	RightPose HandPose
	// Recording lists the loopies this performer is currently recording into.
	Recording []ident.ObjectID
}

func (p Pose) Encode(w *wire.Writer) {
	p.Head.Encode(w)
	p.LeftHand.Encode(w)
	p.RightHand.Encode(w)
	w.U8(uint8(p.LeftPose))
	w.U8(uint8(p.RightPose))
	w.ObjectIDs(p.Recording)
}

// DecodePose reads what Encode wrote. An empty Recording comes back nil.
func DecodePose(r *wire.Reader) Pose {
	p := Pose{
		Head:      geom.DecodeVector3(r),
		LeftHand:  geom.DecodeVector3(r),
		RightHand: geom.DecodeVector3(r),
		LeftPose:  HandPose(r.U8()),
		RightPose: HandPose(r.U8()),
	}
	p.Recording = r.ObjectIDs()
	return p
}

type Local struct {
	pose      Pose
	timestamp uint64
}

func (l *Local) Pose() Pose {
	return l.pose
}

// Timestamp is the logical time of the applied pose.
func (l *Local) Timestamp() uint64 {
	return l.timestamp
}

func (l *Local) apply(ts uint64, p Pose) {
	l.pose = p
	l.timestamp = ts
}

type Performer struct {
	distributed.Distributed[*Local]
}

func newPair(node *scene.Node) (*Performer, *Local) {
	local := &Local{}
	return &Performer{Distributed: distributed.NewDistributed(Kind, node, local, true)}, local
}

// Create builds the owned performer for h.
func Create(h *distributed.Host, node *scene.Node) *Performer {
	p, _ := newPair(node)
	h.InitializeOwner(p)
	return p
}

func (p *Performer) EncodeState(w *wire.Writer) {
	w.U64(p.Local().timestamp)
	p.Local().pose.Encode(w)
}

// Update broadcasts pose at logical time ts.
func (p *Performer) Update(ts uint64, pose Pose) {
	distributed.RouteBroadcast[*Local](p, UpdatePerformer{At: ts, Pose: pose})
}

type UpdatePerformer struct {
	At   uint64
	Pose Pose
}

func (UpdatePerformer) MessageKind() distributed.MessageKind { return MsgUpdatePerformer }
func (m UpdatePerformer) Timestamp() uint64                  { return m.At }
func (m UpdatePerformer) Encode(w *wire.Writer)              { m.Pose.Encode(w) }
func (m UpdatePerformer) Apply(t *Local)                     { t.apply(m.At, m.Pose) }

type createState struct {
	timestamp uint64
	pose      Pose
}

func Register(h *distributed.Host) {
	distributed.RegisterCreate(h, Kind,
		func(r *wire.Reader) createState {
			return createState{timestamp: r.U64(), pose: DecodePose(r)}
		},
		newPair,
		func(l *Local, s createState) { l.apply(s.timestamp, s.pose) },
	)
	distributed.RegisterBroadcast[*Local, UpdatePerformer](h, MsgUpdatePerformer, func(r *wire.Reader, ts uint64) UpdatePerformer {
		return UpdatePerformer{At: ts, Pose: DecodePose(r)}
	})
}
