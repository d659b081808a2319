package things

import (
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/hosttest"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/geom"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/loopie"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/performer"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/viewpoint"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversEveryKind(t *testing.T) {
	testlog.Start(t)
	c := Catalog()
	for kind := range kindNames {
		require.True(t, c.Has(kind), "kind %d", kind)
	}
	require.Equal(t, "loopie", KindName(loopie.Kind))
	require.Equal(t, "kind(99)", KindName(99))
}

func TestSessionWithAllKinds(t *testing.T) {
	testlog.Start(t)
	c := hosttest.New(t, Catalog(), RegisterAll)
	desktop := c.Host("desktop:1", true)
	headset := c.Host("headset:1", false)

	vp := viewpoint.Create(desktop, nil, geom.Identity())
	deskPerf := performer.Create(desktop, nil)
	c.Connect(headset, desktop)

	headPerf := performer.Create(headset, nil)
	loop := loopie.Create(headset, nil, geom.Vector3{Z: 1}, 0.7)
	c.Pump()

	require.Len(t, desktop.Owned(), 2)
	require.Len(t, desktop.Proxies(), 2)
	require.Len(t, headset.Owned(), 2)
	require.Len(t, headset.Proxies(), 2)

	hosttest.Lookup[*viewpoint.Viewpoint](t, headset, vp.ID())
	hosttest.Lookup[*performer.Performer](t, headset, deskPerf.ID())
	hosttest.Lookup[*performer.Performer](t, desktop, headPerf.ID())
	onDesk := hosttest.Lookup[*loopie.Loopie](t, desktop, loop.ID())
	require.Equal(t, "loopie", onDesk.Node().Name)
}
