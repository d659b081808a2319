package ident

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HostToken identifies one host for the lifetime of its network session.
type HostToken uuid.UUID

// NewHostToken returns a fresh random token.
func NewHostToken() HostToken {
	return HostToken(uuid.New())
}

// ParseHostToken parses the canonical string form.
func ParseHostToken(raw string) (HostToken, error) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return HostToken{}, fmt.Errorf("ident: parse host token: %w", err)
	}
	return HostToken(u), nil
}

// HostTokenFromBytes decodes the 16-byte wire form.
func HostTokenFromBytes(b []byte) (HostToken, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return HostToken{}, fmt.Errorf("ident: host token bytes: %w", err)
	}
	return HostToken(u), nil
}

func (t HostToken) IsZero() bool {
	return t == HostToken{}
}

func (t HostToken) Bytes() []byte {
	out := make([]byte, len(t))
	copy(out, t[:])
	return out
}

func (t HostToken) String() string {
	return uuid.UUID(t).String()
}

// Short is the first eight hex digits, used in logs and metric labels.
func (t HostToken) Short() string {
	return t.String()[:8]
}

// ObjectID names one distributed object. The zero value means uninitialized.
type ObjectID struct {
	Owner HostToken
	Seq   uint64
}

func (id ObjectID) IsZero() bool {
	return id.Seq == 0 && id.Owner.IsZero()
}

func (id ObjectID) String() string {
	if id.IsZero() {
		return "#uninitialized"
	}
	return fmt.Sprintf("%s#%d", id.Owner.Short(), id.Seq)
}

// PeerAddress is a stable host:port string usable as a correlation key across hosts.
type PeerAddress string

func (a PeerAddress) String() string {
	return string(a)
}

func (a PeerAddress) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}
