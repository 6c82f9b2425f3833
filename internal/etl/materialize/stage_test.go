package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

func newTestEnv(t *testing.T) *etl.Env {
	t.Helper()
	anaDB, err := database.New(database.Config{Path: ":memory:", Name: "analytic-test"})
	require.NoError(t, err)
	t.Cleanup(func() { anaDB.Close() })
	ana := analytic.New(anaDB, zerolog.Nop())
	require.NoError(t, ana.Init())
	return &etl.Env{Analytic: ana, Cfg: &config.Config{}, Log: zerolog.Nop()}
}

// seedPlayer stores n hands for one player, each with a preflop raise and a
// river call, plus the hand_info and players rows the summaries join on.
func seedPlayer(t *testing.T, env *etl.Env, playerID string, n int, moneyWon float64) {
	t.Helper()
	db := env.Analytic.DB()
	for i := 0; i < n; i++ {
		handID := fmt.Sprintf("%s-h%d", playerID, i)
		_, err := db.Exec(
			`INSERT INTO hand_info (hand_id, hand_date, seq, is_mtt, is_cash, big_blind, small_blind, ante, players_cnt, pot_type)
			 VALUES (?, '2024-01-15', ?, 0, 1, 100, 50, 0, 6, 'SRP')`, handID, i)
		require.NoError(t, err)
		_, err = db.Exec(
			`INSERT INTO players (hand_id, position, player_id, nickname, stack, money_won, holecards)
			 VALUES (?, 'BTN', ?, ?, 10000, ?, 'Ah,Ks')`, handID, playerID, playerID+"-nick", moneyWon)
		require.NoError(t, err)
		_, err = db.Exec(
			`INSERT INTO actions (hand_id, action_order, street, street_index, position, player_id, nickname,
			                      action, size_frac, j_score, is_allin)
			 VALUES (?, 0, 'preflop', 0, 'BTN', ?, ?, 'r300', 3.0, 80.0, 0),
			        (?, 1, 'river', 3, 'BTN', ?, ?, 'c', NULL, 60.0, 0)`,
			handID, playerID, playerID+"-nick", handID, playerID, playerID+"-nick")
		require.NoError(t, err)
	}
}

func TestStageBuildsSummaryTables(t *testing.T) {
	env := newTestEnv(t)
	seedPlayer(t, env, "p1", 12, 250)

	require.NoError(t, New().Run(context.Background(), env))

	db := env.Analytic.DB()

	var totalPlayers, totalHands, totalActions int
	var avgVPIP float64
	require.NoError(t, db.QueryRow(
		`SELECT total_players, total_hands, total_actions, avg_vpip FROM dashboard_summary`).
		Scan(&totalPlayers, &totalHands, &totalActions, &avgVPIP))
	assert.Equal(t, 1, totalPlayers)
	assert.Equal(t, 12, totalHands)
	assert.Equal(t, 24, totalActions)
	assert.InDelta(t, 50.0, avgVPIP, 0.01)

	var hands int
	var vpip, pfr, winrate float64
	require.NoError(t, db.QueryRow(
		`SELECT hands_played, vpip, pfr, winrate_bb100 FROM top25_players WHERE player_id='p1'`).
		Scan(&hands, &vpip, &pfr, &winrate))
	assert.Equal(t, 12, hands)
	assert.InDelta(t, 50.0, vpip, 0.01)
	assert.InDelta(t, 50.0, pfr, 0.01)
	// 12 hands x 250 won at a 100 big blind: 3000/100/12*100 = 250 bb/100.
	assert.InDelta(t, 250.0, winrate, 0.01)

	var riverCalls int
	require.NoError(t, db.QueryRow(
		`SELECT river_call_cnt FROM player_summary WHERE player_id='p1'`).Scan(&riverCalls))
	assert.Equal(t, 12, riverCalls)
}

func TestMinimumHandThreshold(t *testing.T) {
	env := newTestEnv(t)
	seedPlayer(t, env, "reg", 12, 100)
	seedPlayer(t, env, "fish", 5, -100)

	require.NoError(t, New().Run(context.Background(), env))

	var n int
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT COUNT(*) FROM top25_players`).Scan(&n))
	assert.Equal(t, 1, n)

	// player_summary still covers everyone.
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT COUNT(*) FROM player_summary`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestDerivedMetricsFilled(t *testing.T) {
	env := newTestEnv(t)
	seedPlayer(t, env, "p1", 12, 0)

	require.NoError(t, New().Run(context.Background(), env))

	var dev, tilt, calldown sql.NullFloat64
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT bet_deviance, tilt_factor, calldown_accuracy FROM top25_players WHERE player_id='p1'`).
		Scan(&dev, &tilt, &calldown))
	// All sizings equal: zero spread. Constant j_score: zero slope. Every
	// river call at 60 counts as accurate.
	require.True(t, dev.Valid)
	assert.InDelta(t, 0.0, dev.Float64, 1e-9)
	require.True(t, tilt.Valid)
	assert.InDelta(t, 0.0, tilt.Float64, 1e-9)
	require.True(t, calldown.Valid)
	assert.InDelta(t, 1.0, calldown.Float64, 1e-9)
}

func TestRebuildIsRepeatable(t *testing.T) {
	env := newTestEnv(t)
	seedPlayer(t, env, "p1", 12, 100)

	require.NoError(t, New().Run(context.Background(), env))
	seedPlayer(t, env, "p2", 15, 50)
	require.NoError(t, New().Run(context.Background(), env))

	var n int
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT COUNT(*) FROM top25_players`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestEmptyDatabaseStillBuilds(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, New().Run(context.Background(), env))

	var n int
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT COUNT(*) FROM dashboard_summary`).Scan(&n))
	assert.Equal(t, 1, n)
}
