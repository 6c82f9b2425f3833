package scorejoin

import (
	"context"
	"database/sql"
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

func addAction(t *testing.T, env *etl.Env, handID string, order int, street, pos, action, prefix string, amountTo int) {
	t.Helper()
	var amt interface{}
	if amountTo > 0 {
		amt = amountTo
	}
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO actions (hand_id, action_order, street, street_index, position, action,
		                      state_prefix, amount_to, is_allin)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?, 0)`,
		handID, order, street, pos, action, prefix, amt)
	require.NoError(t, err)
}

func actionScore(t *testing.T, env *etl.Env, handID string, order int, column string) sql.NullFloat64 {
	t.Helper()
	var v sql.NullFloat64
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT `+column+` FROM actions WHERE hand_id = ? AND action_order = ?`,
		handID, order).Scan(&v))
	return v
}

func TestPreflopJoinWithHandPrefixMismatch(t *testing.T) {
	env := newTestEnv(t)
	// Scores stored under the bare id, actions under the Hand-prefixed one.
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO preflop_scores (hand_id, position, player, combo, seq, freq, best)
		 VALUES ('249244191', 'BTN', 'p1', 'AhKs', '', 0.8, 'y')`)
	require.NoError(t, err)
	addAction(t, env, "Hand249244191", 0, "preflop", "BTN", "r300", "", 300)

	require.NoError(t, New(false).Run(context.Background(), env))

	got := actionScore(t, env, "Hand249244191", 0, "preflop_score")
	require.True(t, got.Valid)
	assert.InDelta(t, 0.8, got.Float64, 1e-12)

	var best sql.NullString
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT solver_best FROM actions WHERE hand_id='Hand249244191'`).Scan(&best))
	assert.Equal(t, "y", best.String)
}

func TestPostflopExactNodeMatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO postflop_scores (hand_id, node_string, action_score, decision_difficulty)
		 VALUES ('h1', 'rrcc[AhKsQd]r300', 0.72, NULL)`)
	require.NoError(t, err)
	addAction(t, env, "h1", 4, "flop", "BTN", "r300", "rrcc[AhKsQd]", 300)

	require.NoError(t, New(false).Run(context.Background(), env))

	got := actionScore(t, env, "h1", 4, "postflop_score")
	require.True(t, got.Valid)
	assert.InDelta(t, 0.72, got.Float64, 1e-12)
}

func TestPostflopSuffixAndPrefixMatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO postflop_scores (hand_id, node_string, action_score, decision_difficulty)
		 VALUES ('h1', 'EXTRArrcc[AhKsQd]x', 0.4, NULL),
		        ('h2', 'rr', 0.3, NULL)`)
	require.NoError(t, err)
	// Stored node carries more leading history than the replayed state.
	addAction(t, env, "h1", 4, "flop", "BB", "x", "rrcc[AhKsQd]", 0)
	// Stored node stops before the expected one.
	addAction(t, env, "h2", 4, "flop", "BB", "c", "rrx", 0)

	require.NoError(t, New(false).Run(context.Background(), env))

	got := actionScore(t, env, "h1", 4, "postflop_score")
	require.True(t, got.Valid)
	assert.InDelta(t, 0.4, got.Float64, 1e-12)

	got = actionScore(t, env, "h2", 4, "postflop_score")
	require.True(t, got.Valid)
	assert.InDelta(t, 0.3, got.Float64, 1e-12)
}

func TestPreflopCheckNeverScored(t *testing.T) {
	env := newTestEnv(t)
	// A big-blind check would join on position alone; it is not a range
	// decision and must stay unscored.
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO preflop_scores (hand_id, position, player, combo, seq, freq, best)
		 VALUES ('h1', 'BB', 'p2', 'AhKs', '', 0.9, 'y')`)
	require.NoError(t, err)
	addAction(t, env, "h1", 0, "preflop", "BB", "x", "", 0)
	addAction(t, env, "h1", 1, "preflop", "BB", "c", "", 0)

	require.NoError(t, New(false).Run(context.Background(), env))

	got := actionScore(t, env, "h1", 0, "preflop_score")
	assert.False(t, got.Valid)

	got = actionScore(t, env, "h1", 1, "preflop_score")
	require.True(t, got.Valid)
	assert.InDelta(t, 0.9, got.Float64, 1e-12)
}

func TestHandsWithoutScoresUntouched(t *testing.T) {
	env := newTestEnv(t)
	addAction(t, env, "h1", 4, "flop", "BB", "x", "rrcc", 0)

	require.NoError(t, New(false).Run(context.Background(), env))

	got := actionScore(t, env, "h1", 4, "postflop_score")
	assert.False(t, got.Valid)
}

func TestNormalizeRescalesFractionalScores(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO actions (hand_id, action_order, street, street_index, position, action,
		                      preflop_score, postflop_score, is_allin)
		 VALUES ('h1', 0, 'preflop', 0, 'BTN', 'r300', 0.8, NULL, 0),
		        ('h1', 4, 'flop', 1, 'BTN', 'r300', NULL, 0.72, 0)`)
	require.NoError(t, err)

	require.NoError(t, New(true).Run(context.Background(), env))

	pre := actionScore(t, env, "h1", 0, "preflop_score")
	post := actionScore(t, env, "h1", 4, "postflop_score")
	assert.InDelta(t, 80.0, pre.Float64, 1e-9)
	assert.InDelta(t, 72.0, post.Float64, 1e-9)
}

func TestNormalizeLeavesFullScaleScores(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO actions (hand_id, action_order, street, street_index, position, action,
		                      preflop_score, is_allin)
		 VALUES ('h1', 0, 'preflop', 0, 'BTN', 'r300', 80.0, 0)`)
	require.NoError(t, err)

	require.NoError(t, New(true).Run(context.Background(), env))

	pre := actionScore(t, env, "h1", 0, "preflop_score")
	assert.InDelta(t, 80.0, pre.Float64, 1e-9)
}
