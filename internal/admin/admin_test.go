package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snap *distributed.Snapshot
}

func (s staticSource) Snapshot() *distributed.Snapshot { return s.snap }

func testServer(snap *distributed.Snapshot) *Server {
	gin.SetMode(gin.TestMode)
	return New(staticSource{snap: snap}, Config{
		Label: "test",
		KindName: func(k distributed.Kind) string {
			if k == 3 {
				return "loopie"
			}
			return ""
		},
	})
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Engine().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func sampleSnapshot() *distributed.Snapshot {
	return &distributed.Snapshot{
		Token: "tok",
		Name:  "desktop",
		Polls: 3,
		Peers: []distributed.PeerInfo{{ID: 1, Address: "10.0.0.2:9400", Name: "headset"}},
		Objects: []distributed.ObjectInfo{
			{ID: "aaaa#1", Kind: 1, Role: "owner", OwnerConnected: true},
			{ID: "bbbb#4", Kind: 3, Role: "proxy", OwnerAddress: "10.0.0.2:9400", OwnerConnected: true, Deletable: true},
		},
		Stats: distributed.Stats{Dropped: map[string]uint64{}},
	}
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	rec, body := get(t, testServer(sampleSnapshot()), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])

	rec, _ = get(t, testServer(sampleSnapshot()), "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = get(t, testServer(nil), "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, false, body["ready"])
}

func TestObjectsFilterAndKindNames(t *testing.T) {
	testlog.Start(t)
	s := testServer(sampleSnapshot())

	_, body := get(t, s, "/objects")
	require.Len(t, body["objects"], 2)

	_, body = get(t, s, "/objects?role=proxy")
	objs := body["objects"].([]any)
	require.Len(t, objs, 1)
	first := objs[0].(map[string]any)
	require.Equal(t, "bbbb#4", first["id"])
	require.Equal(t, "loopie", first["kind_name"])

	rec, _ := get(t, s, "/objects?role=nobody")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, s, "/objects/"+url.PathEscape("aaaa#1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner", body["role"])

	rec, _ = get(t, s, "/objects/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPeersAndHost(t *testing.T) {
	testlog.Start(t)
	s := testServer(sampleSnapshot())
	_, body := get(t, s, "/peers")
	peers := body["peers"].([]any)
	require.Len(t, peers, 1)
	require.Equal(t, "headset", peers[0].(map[string]any)["name"])

	_, body = get(t, s, "/host")
	require.Equal(t, "desktop", body["name"])

	rec, _ := get(t, testServer(nil), "/host")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	_, body = get(t, testServer(nil), "/peers")
	require.Empty(t, body["peers"])
}

func TestMetricsExposed(t *testing.T) {
	testlog.Start(t)
	s := testServer(sampleSnapshot())
	get(t, s, "/health")
	rec, _ := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "holofunk_http_requests_total")
}

func TestStateRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := New(staticSource{snap: sampleSnapshot()}, Config{Label: "test", Token: "s3cret"})

	rec, _ := get(t, s, "/objects")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
