package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/performer"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/viewpoint"
	"github.com/rs/zerolog/log"
)

// stage holds the objects this host owns and keeps them moving each tick.
type stage struct {
	host      *distributed.Host
	viewpoint *viewpoint.Viewpoint
	performer *performer.Performer
	started   time.Time
	players   map[string]viewpoint.PlayerID
	next      viewpoint.PlayerID
}

func newStage(h *distributed.Host, factory scene.Factory) (*stage, error) {
	s := &stage{host: h, started: time.Now(), players: make(map[string]viewpoint.PlayerID)}

	node, err := factory.Instantiate(performer.Kind)
	if err != nil {
		return nil, fmt.Errorf("instantiate performer: %w", err)
	}
	s.performer = performer.Create(h, node)

	if !h.Identity().Listener {
		return s, nil
	}
	node, err = factory.Instantiate(viewpoint.Kind)
	if err != nil {
		return nil, fmt.Errorf("instantiate viewpoint: %w", err)
	}
	s.viewpoint = viewpoint.Create(h, node, geom.Identity())
	h.OnPeerConnected(s.trackPeer)
	h.OnPeerDisconnected(s.untrackPeer)
	return s, nil
}

// trackPeer gives each connecting peer a player correlated by address. A
// reconnecting token keeps its player id.
func (s *stage) trackPeer(p *distributed.Peer) {
	key := p.Token.String()
	id, ok := s.players[key]
	if !ok {
		s.next++
		id = s.next
		s.players[key] = id
	}
	s.viewpoint.UpdatePlayer(viewpoint.Player{
		ID:            id,
		Tracking:      viewpoint.Tracked,
		PerformerHost: p.Address,
	})
}

func (s *stage) untrackPeer(p *distributed.Peer) {
	id, ok := s.players[p.Token.String()]
	if !ok {
		return
	}
	player, found := s.viewpoint.Local().Player(id)
	if !found {
		return
	}
	player.Tracking = viewpoint.NotTracked
	s.viewpoint.UpdatePlayer(player)
}

// redialListeners reconnects to a listener whenever its link drops, so the
// listener's objects are re-created fresh rather than left stale.
func redialListeners(ctx context.Context, h *distributed.Host) {
	h.OnPeerDisconnected(func(p *distributed.Peer) {
		if !p.Listener || ctx.Err() != nil {
			return
		}
		log.Info().Msgf("holohost.redial address=%s", p.Address)
		if err := h.Dial(ctx, p.Address.String()); err != nil {
			log.Warn().Msgf("holohost.redial address=%s err=%v", p.Address, err)
		}
	})
}

// update streams the performer pose. The tick is the broadcast timestamp so
// late arrivals lose to newer ones.
func (s *stage) update(tick uint64, now time.Time) {
	phase := now.Sub(s.started).Seconds()
	sway := float32(0.1 * math.Sin(phase))
	pose := performer.Pose{
		Head:      geom.Vector3{X: sway, Y: 1.7, Z: 0},
		LeftHand:  geom.Vector3{X: -0.4 + sway, Y: 1.2, Z: 0.2},
		RightHand: geom.Vector3{X: 0.4 + sway, Y: 1.2, Z: 0.2},
		LeftPose:  performer.HandOpen,
		RightPose: performer.HandOpen,
	}
	s.performer.Update(tick, pose)
}
