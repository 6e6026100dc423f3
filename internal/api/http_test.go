package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/match"
	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/rating"
	"github.com/yourname/game-master/internal/session"
	"github.com/yourname/game-master/internal/status"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/internal/ws"
)

type testServer struct {
	handler http.Handler
	matcher *match.Matcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisStore(mr.Addr(), "", time.Hour, time.Hour)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		MatchSize:        2,
		QueueScanLimit:   64,
		InitialWindow:    100,
		WindowGrowthPerS: 10,
		MaxWindow:        500,
		MaxQueueWait:     time.Minute,
		ProvisionTimeout: time.Second,
		ProvisionRetries: 2,
		BackoffBase:      time.Millisecond,
		HealthInterval:   5 * time.Millisecond,
		HealthTimeout:    time.Second,
		ConnectGrace:     time.Second,
		MaxRequeue:       3,
		EloK:             32,
		IngestRetries:    2,
	}

	hub := ws.NewHub()
	go hub.Run()

	mgr := queue.NewManager(st, hub)
	ing := rating.NewIngestor(cfg, st, rating.LogLeaderboard{})
	orch := session.NewOrchestrator(cfg, session.NewLocalProvisioner(0), mgr, ing, st, hub)
	mgr.SetSessionLookup(orch.Registry())
	rep := status.NewReporter(st, mgr, orch.Registry())
	mm := match.NewMatcher(cfg, st, mgr, orch)

	return &testServer{handler: NewRouter(mgr, rep, orch, hub), matcher: mm}
}

func (ts *testServer) do(method, path, player, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if player != "" {
		req.Header.Set(playerIDHeader, player)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestQueueRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/queue/join", "", `{"rating":1000}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_identity", decode(t, w)["error"])
}

func TestJoinLeaveStatusRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/queue/join", "p1", `{"rating":1000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", decode(t, w)["status"])

	w = ts.do(http.MethodGet, "/queue/status", "p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.Equal(t, "queued", st["state"])

	w = ts.do(http.MethodPost, "/queue/leave", "p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "left", decode(t, w)["status"])

	w = ts.do(http.MethodPost, "/queue/leave", "p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_queued", decode(t, w)["status"])

	w = ts.do(http.MethodGet, "/queue/status", "p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_queued", decode(t, w)["state"])
}

func TestDoubleJoinConflicts(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/queue/join", "p1", `{"rating":1000}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/queue/join", "p1", `{"rating":1000}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_queued", decode(t, w)["error"])
}

func TestJoinValidatesRating(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/queue/join", "p1", `{"rating":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_rating", decode(t, w)["error"])
}

func TestResultForUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/sessions/deadbeef/result", "", `{"winner_id":"p1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_session", decode(t, w)["error"])
}

func TestMatchedPlayersReachSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2"} {
		w := ts.do(http.MethodPost, "/queue/join", p, `{"rating":1000}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	ts.matcher.Pass(ctx)

	// Both players end up in a session (or briefly matched) and can never be
	// reported as queued again.
	require.Eventually(t, func() bool {
		w := ts.do(http.MethodGet, "/queue/status", "p1", "")
		return decode(t, w)["state"] == "in_session"
	}, 2*time.Second, 10*time.Millisecond)

	w := ts.do(http.MethodGet, "/queue/status", "p2", "")
	st := decode(t, w)
	assert.Equal(t, "in_session", st["state"])
	require.NotEmpty(t, st["match_id"])

	// A join while the session is live is refused.
	w = ts.do(http.MethodPost, "/queue/join", "p1", `{"rating":1000}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_in_session", decode(t, w)["error"])

	// Connect both, report a result, and watch the session drain.
	matchID := st["match_id"].(string)
	require.Eventually(t, func() bool {
		w := ts.do(http.MethodGet, "/queue/status", "p1", "")
		return decode(t, w)["session_state"] == "ready"
	}, 2*time.Second, 10*time.Millisecond)

	for _, p := range []string{"p1", "p2"} {
		w = ts.do(http.MethodPost, "/sessions/"+matchID+"/connected", p, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = ts.do(http.MethodPost, "/sessions/"+matchID+"/result", "", `{"winner_id":"p1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := ts.do(http.MethodGet, "/queue/status", "p1", "")
		return decode(t, w)["state"] == "not_queued"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
