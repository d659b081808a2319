package main

import (
	"context"
	"testing"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/hosttest"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/performer"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/viewpoint"
	"github.com/stretchr/testify/require"
)

func newTestStage(t *testing.T, h *distributed.Host) *stage {
	t.Helper()
	st, err := newStage(h, things.Catalog())
	require.NoError(t, err)
	return st
}

func TestStageListenerTracksPlayers(t *testing.T) {
	testlog.Start(t)
	c := hosttest.New(t, things.Catalog(), things.RegisterAll)
	desk := c.Host("desk:9400", true)
	headset := c.Host("headset:9400", false)

	deskStage := newTestStage(t, desk)
	headsetStage := newTestStage(t, headset)
	require.NotNil(t, deskStage.viewpoint)
	require.Nil(t, headsetStage.viewpoint)

	c.Connect(headset, desk)

	view := hosttest.Lookup[*viewpoint.Viewpoint](t, headset, deskStage.viewpoint.ID())
	player, ok := view.FindPlayerByAddress("headset:9400")
	require.True(t, ok)
	require.Equal(t, viewpoint.Tracked, player.Tracking)
	require.Equal(t, viewpoint.PlayerID(1), player.ID)

	// Both performers replicate to the other side.
	hosttest.Lookup[*performer.Performer](t, desk, headsetStage.performer.ID())
	hosttest.Lookup[*performer.Performer](t, headset, deskStage.performer.ID())
}

func TestStageStreamsPerformerPose(t *testing.T) {
	testlog.Start(t)
	c := hosttest.New(t, things.Catalog(), things.RegisterAll)
	desk := c.Host("desk:9400", true)
	headset := c.Host("headset:9400", false)
	newTestStage(t, desk)
	headsetStage := newTestStage(t, headset)
	c.Connect(headset, desk)

	headsetStage.update(7, time.Now())
	c.Pump()

	proxy := hosttest.Lookup[*performer.Performer](t, desk, headsetStage.performer.ID())
	require.Equal(t, uint64(7), proxy.Local().Timestamp())
	require.InDelta(t, 1.7, proxy.Local().Pose().Head.Y, 1e-6)

	// An older tick arriving later is stale.
	headsetStage.update(3, time.Now())
	c.Pump()
	require.Equal(t, uint64(7), proxy.Local().Timestamp())
}

func TestStageUntracksDisconnectedPeer(t *testing.T) {
	testlog.Start(t)
	c := hosttest.New(t, things.Catalog(), things.RegisterAll)
	desk := c.Host("desk:9400", true)
	headset := c.Host("headset:9400", false)
	deskStage := newTestStage(t, desk)
	newTestStage(t, headset)
	c.Connect(headset, desk)

	require.NoError(t, headset.Close())
	desk.PollEvents()

	player, ok := deskStage.viewpoint.FindPlayerByAddress("headset:9400")
	require.True(t, ok)
	require.Equal(t, viewpoint.NotTracked, player.Tracking)
}

func TestRedialRestoresListenerLink(t *testing.T) {
	testlog.Start(t)
	c := hosttest.New(t, things.Catalog(), things.RegisterAll)
	desk := c.Host("desk:9400", true)
	headset := c.Host("headset:9400", false)
	deskStage := newTestStage(t, desk)
	newTestStage(t, headset)
	redialListeners(context.Background(), headset)
	c.Connect(headset, desk)
	before := hosttest.Lookup[*viewpoint.Viewpoint](t, headset, deskStage.viewpoint.ID())

	p, ok := desk.PeerByToken(headset.Token())
	require.True(t, ok)
	require.NoError(t, c.Endpoint(desk).Disconnect(p.ID))
	c.Pump()

	require.Len(t, headset.Peers(), 1)
	require.True(t, before.Deleted())
	after := hosttest.Lookup[*viewpoint.Viewpoint](t, headset, deskStage.viewpoint.ID())
	require.True(t, after.Owner().Connected())
	player, ok := after.FindPlayerByAddress("headset:9400")
	require.True(t, ok)
	require.Equal(t, viewpoint.Tracked, player.Tracking)
	require.Equal(t, viewpoint.PlayerID(1), player.ID)
}
