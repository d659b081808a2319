package distributed

import (
	"errors"
	"fmt"
)

// Protocol anomalies. Inbound envelopes that fail with one of these are
// dropped and logged; none of them stops the host.
var (
	ErrUnknownPeer        = errors.New("distributed: envelope from unknown peer")
	ErrUnknownObject      = errors.New("distributed: unknown object id")
	ErrUnknownKind        = errors.New("distributed: unregistered object kind")
	ErrUnknownMessageKind = errors.New("distributed: unregistered message kind")
	ErrDuplicateCreate    = errors.New("distributed: duplicate create")
	ErrNotOwner           = errors.New("distributed: request sent to non-owner")
	ErrNotFromOwner       = errors.New("distributed: authoritative envelope from non-owner")
	ErrKindMismatch       = errors.New("distributed: message kind does not match object")
	ErrPayload            = errors.New("distributed: undecodable payload")
	ErrInstantiate        = errors.New("distributed: factory could not instantiate kind")
	ErrOwnerDisconnected  = errors.New("distributed: owner disconnected")
	ErrThrottled          = errors.New("distributed: broadcast over rate budget")
	ErrMalformed          = errors.New("distributed: malformed envelope")
	ErrSendFailed         = errors.New("distributed: transport send failed")
)

// dropReason maps an anomaly to its metric label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownPeer):
		return "unknown_peer"
	case errors.Is(err, ErrUnknownObject):
		return "unknown_id"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrUnknownMessageKind):
		return "unknown_message_kind"
	case errors.Is(err, ErrDuplicateCreate):
		return "duplicate_create"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotFromOwner):
		return "not_from_owner"
	case errors.Is(err, ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, ErrPayload):
		return "bad_payload"
	case errors.Is(err, ErrInstantiate):
		return "instantiate"
	case errors.Is(err, ErrOwnerDisconnected):
		return "owner_disconnected"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	default:
		return "malformed"
	}
}

// ContractError is the panic value for calling-layer programming errors:
// double initialization, routing through an uninitialized object, mutating a
// proxy as if it were authoritative.
type ContractError struct {
	Op  string
	Msg string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("distributed: contract violation in %s: %s", e.Op, e.Msg)
}

func contractViolation(op, format string, args ...any) {
	panic(&ContractError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
