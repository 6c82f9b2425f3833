package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/etl/materialize"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/queries"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *etl.Env) {
	t.Helper()

	// File-backed so the websocket poller and background materialize see
	// the same database from their own pool connections.
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "heavy_analysis.db"),
		Profile: database.ProfileAnalytic,
		Name:    "server-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ana := analytic.New(db, zerolog.Nop())
	require.NoError(t, ana.Init())

	cfg := &config.Config{ReadAPIKey: apiKey}
	env := &etl.Env{Analytic: ana, Cfg: cfg, Log: zerolog.Nop()}

	srv := New(Config{
		Log:        zerolog.Nop(),
		Queries:    queries.New(db, zerolog.Nop()),
		Bus:        progress.NewBus(),
		AnalyticDB: db,
		Config:     cfg,
		Port:       0,
		Env:        env,
	})
	return srv, env
}

func seedHands(t *testing.T, env *etl.Env) {
	t.Helper()
	db := env.Analytic.DB()

	_, err := db.Exec(`
		INSERT INTO hand_info (hand_id, hand_date, seq, is_cash, is_mtt, big_blind, small_blind, players_cnt, pot_type)
		VALUES ('h1', '2024-01-15', 0, 1, 0, 100, 50, 6, 'SRP')`)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO actions (hand_id, action_order, street, street_index, position,
			player_id, nickname, action, invested_this_action, pot_before, pot_after,
			players_left, j_score, size_frac, action_label)
		VALUES
		('h1', 0, 'preflop', 0, 'BTN', 'alice', 'alice', 'r300', 300, 150, 450, 6, 80, 3.0, 'open'),
		('h1', 1, 'preflop', 0, 'BB', 'bob', 'bob', 'f', 0, 450, 450, 6, 55, NULL, 'fold')`)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO players (hand_id, position, nickname, money_won)
		VALUES ('h1', 'BTN', 'alice', 150), ('h1', 'BB', 'bob', -100)`)
	require.NoError(t, err)
}

func doRequest(t *testing.T, srv *Server, method, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthReportsReadiness(t *testing.T) {
	srv, env := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["database_ready"])

	seedHands(t, env)
	require.NoError(t, materialize.New().Run(context.Background(), env))

	rec = doRequest(t, srv, http.MethodGet, "/api/health", "")
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["database_ready"])
}

func TestAPIKeyGuardsDataEndpoints(t *testing.T) {
	srv, env := newTestServer(t, "sekrit")
	seedHands(t, env)
	require.NoError(t, materialize.New().Run(context.Background(), env))

	// Health stays open for load balancer probes.
	rec := doRequest(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/dashboard", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/dashboard", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/dashboard", "sekrit")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmptyKeyDisablesAuth(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)
	require.NoError(t, materialize.New().Run(context.Background(), env))

	rec := doRequest(t, srv, http.MethodGet, "/api/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)
	require.NoError(t, materialize.New().Run(context.Background(), env))

	rec := doRequest(t, srv, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total_players"])
	assert.Equal(t, float64(1), body["total_hands"])
}

func TestDashboardBeforeMaterializeIsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/dashboard", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlayerStatsEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodGet, "/api/players/alice/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["player_id"])

	rec = doRequest(t, srv, http.MethodGet, "/api/players/nobody/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandSearchEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodGet, "/api/hands/search?street=preflop&player=ali", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestHandDetailEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodGet, "/api/hands/h1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "h1", body["hand_id"])

	rec = doRequest(t, srv, http.MethodGet, "/api/hands/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompareRequiresPlayer(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/compare", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompareEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodGet, "/api/compare?player=alice&street=preflop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body, "player_stats")
	require.Contains(t, body, "population_stats")
}

func TestFiltersEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodGet, "/api/filters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body, "streets")
}

func TestSystemStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/system", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "goroutines")
}

func TestMaterializeEndpoint(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodPost, "/api/materialize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "started", body["status"])

	svc := queries.New(env.Analytic.DB(), zerolog.Nop())
	assert.Eventually(t, func() bool {
		return svc.IsReady(context.Background())
	}, 5*time.Second, 50*time.Millisecond)
}

func TestMaterializePublishesProgress(t *testing.T) {
	srv, env := newTestServer(t, "")
	seedHands(t, env)

	rec := doRequest(t, srv, http.MethodPost, "/api/materialize", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		last := srv.bus.Last()
		return last.Phase == "idle" && last.Message == "rebuild complete"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSystemStatsFallBackToStoredActivity(t *testing.T) {
	srv, env := newTestServer(t, "")
	require.NoError(t, env.Analytic.RecordActivity(progress.Event{
		Time: time.Now(), Phase: "scrape", Date: "2024-01-15", Count: 7,
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/system", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body, "last_activity")
	last := body["last_activity"].(map[string]interface{})
	assert.Equal(t, "scrape", last["phase"])
	assert.Equal(t, float64(7), last["count"])
}

func TestProgressWebSocketReplaysLastEvent(t *testing.T) {
	srv, _ := newTestServer(t, "")
	srv.bus.Publish(progress.Event{Time: time.Now(), Phase: "scrape", Date: "2024-01-15"})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev progress.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "scrape", ev.Phase)
	assert.Equal(t, "2024-01-15", ev.Date)
}

func TestProgressWebSocketRelaysWriterActivity(t *testing.T) {
	srv, env := newTestServer(t, "")

	// The writer process is not in this process; its progress arrives
	// through the mirrored snapshot only.
	require.NoError(t, env.Analytic.RecordActivity(progress.Event{
		Time: time.Now(), Phase: "scrape", Date: "2024-01-15", Count: 3,
	}))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev progress.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "scrape", ev.Phase)
	assert.Equal(t, 3, ev.Count)

	// A newer snapshot reaches the open stream through the poller.
	require.NoError(t, env.Analytic.RecordActivity(progress.Event{
		Time: time.Now(), Phase: "idle", Message: "pipeline complete",
	}))

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "idle", ev.Phase)
}
