package distributed

import (
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
)

// Kind tags an object type in Create envelopes.
type Kind = scene.Kind

// MessageKind tags one Reliable or Broadcast operation. The namespace is
// shared by every object kind registered on a host.
type MessageKind uint16

// Message is an operation payload with a fixed wire layout.
type Message interface {
	MessageKind() MessageKind
	Encode(w *wire.Writer)
}

// Applier is a Message that mutates local state of interface type I.
type Applier[I any] interface {
	Message
	Apply(target I)
}

// BroadcastApplier is an Applier carrying a logical timestamp.
type BroadcastApplier[I any] interface {
	Applier[I]
	Timestamp() uint64
}

func encodeMessage(m Message) []byte {
	w := wire.NewWriter()
	m.Encode(w)
	return w.Bytes()
}
