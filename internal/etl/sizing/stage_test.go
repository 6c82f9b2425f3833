package sizing

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

func TestLabelPostflopBounds(t *testing.T) {
	cases := []struct {
		frac float64
		want string
	}{
		{0.005, "unknown"},
		{0.01, "tiny"},
		{0.19, "tiny"},
		{0.20, "small"},
		{0.35, "medium"},
		{0.54, "medium"},
		{0.55, "big"},
		{0.85, "pot"},
		{1.10, "over"},
		{1.75, "huge"},
		{10.0, "huge"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Label(c.frac, "flop"), "frac %v", c.frac)
	}
}

func TestLabelPreflopBounds(t *testing.T) {
	cases := []struct {
		frac float64
		want string
	}{
		{0.5, "tiny"},
		{1.50, "small"},
		{2.25, "medium"},
		{3.00, "big"},
		{3.75, "pot"},
		{4.50, "over"},
		{6.00, "huge"},
		{0.0, "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Label(c.frac, "preflop"), "frac %v", c.frac)
	}
}

func newTestEnv(t *testing.T) *etl.Env {
	t.Helper()
	anaDB, err := database.New(database.Config{Path: ":memory:", Name: "analytic-test"})
	require.NoError(t, err)
	t.Cleanup(func() { anaDB.Close() })
	ana := analytic.New(anaDB, zerolog.Nop())
	require.NoError(t, ana.Init())
	return &etl.Env{Analytic: ana, Cfg: &config.Config{}, Log: zerolog.Nop()}
}

func addHand(t *testing.T, env *etl.Env, handID string, bigBlind float64) {
	t.Helper()
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO hand_info (hand_id, hand_date, seq, is_mtt, is_cash, big_blind, small_blind, ante, players_cnt, pot_type)
		 VALUES (?, '2024-01-15', 0, 0, 1, ?, 50, 0, 6, 'SRP')`, handID, bigBlind)
	require.NoError(t, err)
}

func addAction(t *testing.T, env *etl.Env, handID string, order int, street, action string, amountTo, invested, potBefore int) {
	t.Helper()
	_, err := env.Analytic.DB().Exec(
		`INSERT INTO actions (hand_id, action_order, street, street_index, position, action,
		                      amount_to, invested_this_action, pot_before, is_allin)
		 VALUES (?, ?, ?, 0, 'BTN', ?, ?, ?, ?, 0)`,
		handID, order, street, action, amountTo, invested, potBefore)
	require.NoError(t, err)
}

func fetchSizing(t *testing.T, env *etl.Env, handID string, order int) (sql.NullFloat64, sql.NullString) {
	t.Helper()
	var frac sql.NullFloat64
	var cat sql.NullString
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT size_frac, size_cat FROM actions WHERE hand_id = ? AND action_order = ?`,
		handID, order).Scan(&frac, &cat))
	return frac, cat
}

func TestStageSizesRaisesAndBets(t *testing.T) {
	env := newTestEnv(t)
	addHand(t, env, "h1", 100)

	// Open to 3bb preflop.
	addAction(t, env, "h1", 0, "preflop", "r300", 300, 300, 150)
	// Two thirds pot on the flop.
	addAction(t, env, "h1", 1, "flop", "r400", 400, 400, 600)
	// Calls are never sized.
	addAction(t, env, "h1", 2, "flop", "c", 400, 400, 1000)

	require.NoError(t, New().Run(context.Background(), env))

	frac, cat := fetchSizing(t, env, "h1", 0)
	require.True(t, frac.Valid)
	assert.InDelta(t, 3.0, frac.Float64, 1e-9)
	assert.Equal(t, "big", cat.String)

	frac, cat = fetchSizing(t, env, "h1", 1)
	require.True(t, frac.Valid)
	assert.InDelta(t, 0.6667, frac.Float64, 1e-3)
	assert.Equal(t, "big", cat.String)

	frac, cat = fetchSizing(t, env, "h1", 2)
	assert.False(t, frac.Valid)
	assert.False(t, cat.Valid)
}

func TestZeroPotYieldsUnknown(t *testing.T) {
	env := newTestEnv(t)
	addHand(t, env, "h1", 100)
	addAction(t, env, "h1", 0, "flop", "r200", 200, 200, 0)

	require.NoError(t, New().Run(context.Background(), env))

	frac, cat := fetchSizing(t, env, "h1", 0)
	assert.False(t, frac.Valid)
	assert.Equal(t, "unknown", cat.String)
}

func TestZeroBigBlindYieldsUnknown(t *testing.T) {
	env := newTestEnv(t)
	addHand(t, env, "h1", 0)
	addAction(t, env, "h1", 0, "preflop", "r300", 300, 300, 0)

	require.NoError(t, New().Run(context.Background(), env))

	frac, cat := fetchSizing(t, env, "h1", 0)
	assert.False(t, frac.Valid)
	assert.Equal(t, "unknown", cat.String)
}

func TestAlreadySizedRowsUntouched(t *testing.T) {
	env := newTestEnv(t)
	addHand(t, env, "h1", 100)
	addAction(t, env, "h1", 0, "flop", "r400", 400, 400, 600)
	_, err := env.Analytic.DB().Exec(
		`UPDATE actions SET size_frac = 9.9, size_cat = 'huge' WHERE hand_id = 'h1'`)
	require.NoError(t, err)

	require.NoError(t, New().Run(context.Background(), env))

	frac, cat := fetchSizing(t, env, "h1", 0)
	assert.Equal(t, 9.9, frac.Float64)
	assert.Equal(t, "huge", cat.String)
}
