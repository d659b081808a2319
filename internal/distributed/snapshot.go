package distributed

import (
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/observability"
)

// PeerInfo is the read-only view of one connected peer.
type PeerInfo struct {
	ID          uint64    `json:"id"`
	Token       string    `json:"token"`
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	Listener    bool      `json:"listener"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ObjectInfo is the read-only view of one owned object or proxy.
type ObjectInfo struct {
	ID             string `json:"id"`
	Kind           uint16 `json:"kind"`
	Role           string `json:"role"`
	OwnerAddress   string `json:"owner_address,omitempty"`
	OwnerConnected bool   `json:"owner_connected"`
	Deletable      bool   `json:"deletable"`
}

// Snapshot is published after every poll so other goroutines can read host
// state without touching the poll goroutine's tables.
type Snapshot struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Listener bool   `json:"listener"`
	Polls    uint64 `json:"polls"`
	// IDsIssued counts object ids this host has allocated as owner.
	IDsIssued uint64       `json:"ids_issued"`
	TakenAt   time.Time    `json:"taken_at"`
	Peers     []PeerInfo   `json:"peers"`
	Objects   []ObjectInfo `json:"objects"`
	Stats     Stats        `json:"stats"`
}

// Snapshot returns the state published by the most recent poll. Safe from
// any goroutine.
func (h *Host) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

func (h *Host) publishSnapshot() {
	snap := &Snapshot{
		Token:     h.identity.Token.String(),
		Name:      h.cfg.Name,
		Address:   h.identity.Address.String(),
		Listener:  h.identity.Listener,
		Polls:     h.polls,
		IDsIssued: h.alloc.Issued(),
		TakenAt:   time.Now(),
		Peers:     make([]PeerInfo, 0, len(h.peers)),
		Stats:     h.Stats(),
	}
	for _, p := range h.Peers() {
		snap.Peers = append(snap.Peers, PeerInfo{
			ID:          uint64(p.ID),
			Token:       p.Token.String(),
			Address:     p.Address.String(),
			Name:        p.Name,
			Listener:    p.Listener,
			ConnectedAt: p.ConnectedAt,
		})
	}
	owned := h.Owned()
	proxies := h.Proxies()
	snap.Objects = make([]ObjectInfo, 0, len(owned)+len(proxies))
	for _, obj := range owned {
		snap.Objects = append(snap.Objects, ObjectInfo{
			ID:             obj.ID().String(),
			Kind:           uint16(obj.Kind()),
			Role:           "owner",
			OwnerConnected: true,
			Deletable:      obj.Deletable(),
		})
	}
	for _, obj := range proxies {
		owner := obj.Owner()
		snap.Objects = append(snap.Objects, ObjectInfo{
			ID:             obj.ID().String(),
			Kind:           uint16(obj.Kind()),
			Role:           "proxy",
			OwnerAddress:   owner.Address.String(),
			OwnerConnected: owner.Connected(),
			Deletable:      obj.Deletable(),
		})
	}
	h.snapshot.Store(snap)
	observability.SetObjectCounts(h.label, len(owned), len(proxies))
}
