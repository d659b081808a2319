package schema

import (
	"fmt"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs carried in frame.Header.MessageType.
const (
	MsgCreate    uint32 = 1
	MsgDelete    uint32 = 2
	MsgReliable  uint32 = 3
	MsgBroadcast uint32 = 4
)

// Field IDs from tlv contract.
const (
	FieldOwnerToken uint16 = 1
	FieldObjectSeq  uint16 = 2

	FieldKind uint16 = 100

	FieldTimestamp uint16 = 200

	FieldPayload uint16 = 300
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgCreate: {
		{FieldOwnerToken, tlv.TypeBytes},
		{FieldObjectSeq, tlv.TypeU64},
		{FieldKind, tlv.TypeU16},
		{FieldPayload, tlv.TypeBytes},
	},
	MsgDelete: {
		{FieldOwnerToken, tlv.TypeBytes},
		{FieldObjectSeq, tlv.TypeU64},
	},
	MsgReliable: {
		{FieldOwnerToken, tlv.TypeBytes},
		{FieldObjectSeq, tlv.TypeU64},
		{FieldKind, tlv.TypeU16},
		{FieldPayload, tlv.TypeBytes},
	},
	MsgBroadcast: {
		{FieldOwnerToken, tlv.TypeBytes},
		{FieldObjectSeq, tlv.TypeU64},
		{FieldKind, tlv.TypeU16},
		{FieldTimestamp, tlv.TypeU64},
		{FieldPayload, tlv.TypeBytes},
	},
}

var typeNames = map[uint32]string{
	MsgCreate:    "create",
	MsgDelete:    "delete",
	MsgReliable:  "reliable",
	MsgBroadcast: "broadcast",
}

// TypeName returns the lowercase label for a message type, or "unknown".
func TypeName(messageType uint32) string {
	if name, ok := typeNames[messageType]; ok {
		return name
	}
	return "unknown"
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Msgf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Msgf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().Msgf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Msgf("schema.Validate ok message_type=%d", messageType)
	return nil
}
