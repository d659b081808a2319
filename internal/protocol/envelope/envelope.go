// Package envelope owns the replication message variants and their wire form.
//
// Ownership boundary:
// - Create/Delete/Reliable/Broadcast shapes and validation
// - frame + tlv encoding of those shapes
//
// Payload bytes are opaque here; their layout belongs to the object kind.
package envelope

import (
	"errors"
	"fmt"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/frame"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/schema"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/tlv"
)

var (
	ErrUnknownType     = errors.New("envelope: unknown message type")
	ErrUninitializedID = errors.New("envelope: uninitialized object id")
	ErrRequestNotValid = errors.New("envelope: request flag not valid for message type")
)

// Envelope is the tagged variant exchanged between hosts. Type selects the
// variant; fields irrelevant to a variant stay zero.
type Envelope struct {
	Type      uint32
	ID        ident.ObjectID
	Kind      uint16
	IsRequest bool
	Timestamp uint64
	Payload   []byte
}

// NewCreate instantiates a proxy on the receiver; Kind is the object kind.
func NewCreate(id ident.ObjectID, kind uint16, state []byte) Envelope {
	return Envelope{Type: schema.MsgCreate, ID: id, Kind: kind, Payload: state}
}

func NewDelete(id ident.ObjectID, isRequest bool) Envelope {
	return Envelope{Type: schema.MsgDelete, ID: id, IsRequest: isRequest}
}

// NewReliable carries one ordered operation; Kind is the message kind.
func NewReliable(id ident.ObjectID, kind uint16, isRequest bool, payload []byte) Envelope {
	return Envelope{Type: schema.MsgReliable, ID: id, Kind: kind, IsRequest: isRequest, Payload: payload}
}

// NewBroadcast carries one self-contained, timestamped telemetry update.
func NewBroadcast(id ident.ObjectID, kind uint16, timestamp uint64, payload []byte) Envelope {
	return Envelope{Type: schema.MsgBroadcast, ID: id, Kind: kind, Timestamp: timestamp, Payload: payload}
}

func (e Envelope) Validate() error {
	switch e.Type {
	case schema.MsgCreate, schema.MsgBroadcast:
		if e.IsRequest {
			return fmt.Errorf("%w: %s", ErrRequestNotValid, e.TypeName())
		}
	case schema.MsgDelete, schema.MsgReliable:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownType, e.Type)
	}
	if e.ID.IsZero() || e.ID.Owner.IsZero() {
		return ErrUninitializedID
	}
	return nil
}

func (e Envelope) TypeName() string {
	return schema.TypeName(e.Type)
}

// Unreliable reports whether the transport may drop or reorder this envelope.
func (e Envelope) Unreliable() bool {
	return e.Type == schema.MsgBroadcast
}

func (e Envelope) String() string {
	req := ""
	if e.IsRequest {
		req = " request"
	}
	return fmt.Sprintf("%s%s id=%s kind=%d", e.TypeName(), req, e.ID, e.Kind)
}

func Encode(messageID uint64, env Envelope, limits frame.Limits) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.BytesField(schema.FieldOwnerToken, env.ID.Owner.Bytes()),
		tlv.U64Field(schema.FieldObjectSeq, env.ID.Seq),
	}
	if env.Type != schema.MsgDelete {
		fields = append(fields, tlv.U16Field(schema.FieldKind, env.Kind))
	}
	if env.Type == schema.MsgBroadcast {
		fields = append(fields, tlv.U64Field(schema.FieldTimestamp, env.Timestamp))
	}
	if env.Type != schema.MsgDelete {
		fields = append(fields, tlv.BytesField(schema.FieldPayload, env.Payload))
	}
	if err := schema.Validate(env.Type, fields); err != nil {
		return nil, err
	}

	var flags uint32
	if env.IsRequest {
		flags |= frame.FlagIsRequest
	}
	if env.Unreliable() {
		flags |= frame.FlagUnreliable
	}
	return frame.EncodeFrame(frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: env.Type,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, limits)
}

func Decode(f frame.Frame) (Envelope, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	msgType := f.Header.MessageType
	if err := schema.Validate(msgType, fields); err != nil {
		return Envelope{}, err
	}

	ownerField, _ := tlv.GetField(fields, schema.FieldOwnerToken)
	owner, err := ident.HostTokenFromBytes(ownerField.Value)
	if err != nil {
		return Envelope{}, err
	}
	seqField, _ := tlv.GetField(fields, schema.FieldObjectSeq)
	seq, err := tlv.U64FromBytes(seqField.Value)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Type:      msgType,
		ID:        ident.ObjectID{Owner: owner, Seq: seq},
		IsRequest: f.HasFlag(frame.FlagIsRequest),
	}
	if kindField, ok := tlv.GetField(fields, schema.FieldKind); ok {
		kind, err := tlv.U16FromBytes(kindField.Value)
		if err != nil {
			return Envelope{}, err
		}
		env.Kind = kind
	}
	if tsField, ok := tlv.GetField(fields, schema.FieldTimestamp); ok {
		ts, err := tlv.U64FromBytes(tsField.Value)
		if err != nil {
			return Envelope{}, err
		}
		env.Timestamp = ts
	}
	if payloadField, ok := tlv.GetField(fields, schema.FieldPayload); ok {
		env.Payload = payloadField.Value
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeBytes parses one envelope from a message-oriented transport buffer.
func DecodeBytes(b []byte, limits frame.Limits) (Envelope, error) {
	f, err := frame.DecodeFrame(b, limits)
	if err != nil {
		return Envelope{}, err
	}
	return Decode(f)
}
