package handbuilder

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/rawstore"
)

func newTestEnv(t *testing.T) *etl.Env {
	t.Helper()

	dir := t.TempDir()

	// A file-backed database matches production: the stage reads the
	// partial_scores sidecar on a second pooled connection while the hand
	// cursor is open, and with :memory: each pooled connection is a
	// separate empty database.
	rawDB, err := database.New(database.Config{Path: filepath.Join(dir, "primary-test.db"), Name: "primary-test"})
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	raw := rawstore.New(rawDB, zerolog.Nop())
	require.NoError(t, raw.Init())

	anaDB, err := database.New(database.Config{Path: filepath.Join(dir, "analytic-test.db"), Name: "analytic-test"})
	require.NoError(t, err)
	t.Cleanup(func() { anaDB.Close() })
	ana := analytic.New(anaDB, zerolog.Nop())
	require.NoError(t, ana.Init())

	return &etl.Env{
		Raw:      raw,
		Analytic: ana,
		Cfg:      &config.Config{},
		Log:      zerolog.Nop(),
	}
}

func storeHand(t *testing.T, env *etl.Env, id, date string, seq int, hand map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(hand)
	require.NoError(t, err)
	_, err = env.Raw.InsertHands([]rawstore.HandRow{{ID: id, HandDate: date, Seq: seq, RawJSON: string(raw)}})
	require.NoError(t, err)
}

func TestStageBuildsAnalyticRows(t *testing.T) {
	env := newTestEnv(t)

	h := fourHandedHand("rrcc[AhKsQd]xx")
	storeHand(t, env, "h1", "2024-01-15", 0, h)

	require.NoError(t, New().Run(context.Background(), env))

	var nActions, nStreets, nPlayers int
	db := env.Analytic.DB()
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM actions WHERE hand_id='h1'`).Scan(&nActions))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM streets WHERE hand_id='h1'`).Scan(&nStreets))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM players WHERE hand_id='h1'`).Scan(&nPlayers))
	assert.Equal(t, 6, nActions)
	assert.Equal(t, 1, nStreets)
	assert.Equal(t, 4, nPlayers)

	var potType string
	require.NoError(t, db.QueryRow(`SELECT pot_type FROM hand_info WHERE hand_id='h1'`).Scan(&potType))
	assert.Equal(t, "SRP", potType)
}

func TestStageIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	storeHand(t, env, "h1", "2024-01-15", 0, fourHandedHand("rrcc[AhKsQd]xx"))

	require.NoError(t, New().Run(context.Background(), env))
	require.NoError(t, New().Run(context.Background(), env))

	var n int
	require.NoError(t, env.Analytic.DB().QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n))
	assert.Equal(t, 6, n)
}

func TestStageSkipsMalformedHand(t *testing.T) {
	env := newTestEnv(t)
	storeHand(t, env, "bad", "2024-01-15", 0, map[string]interface{}{
		"stub":             "bad",
		"situation_string": "r!?",
		"positions": map[string]interface{}{
			"BTN": seat("p1", "p1", 1000, "Ah", "Kh"),
			"BB":  seat("p2", "p2", 1000, "2c", "2d"),
		},
	})
	storeHand(t, env, "good", "2024-01-15", 1, fourHandedHand("rfff"))

	require.NoError(t, New().Run(context.Background(), env))

	db := env.Analytic.DB()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM hand_info`).Scan(&n))
	assert.Equal(t, 1, n)

	var id string
	require.NoError(t, db.QueryRow(`SELECT hand_id FROM hand_info`).Scan(&id))
	assert.Equal(t, "good", id)
}

func TestStageFillsPostflopScores(t *testing.T) {
	env := newTestEnv(t)

	h := fourHandedHand("rrcc[AhKsQd]xr200c")
	h["partial_scores"] = map[string]interface{}{
		"rrcc[AhKsQd]":  0.41,
		"rrcc[AhKsQd]x": map[string]interface{}{"action_score": 0.77, "decision_difficulty": 0.3},
	}
	storeHand(t, env, "h1", "2024-01-15", 0, h)

	require.NoError(t, New().Run(context.Background(), env))

	db := env.Analytic.DB()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM postflop_scores WHERE hand_id='h1'`).Scan(&n))
	assert.Equal(t, 2, n)

	// The first flop action's state_prefix is the node before the check.
	var score sql.NullFloat64
	require.NoError(t, db.QueryRow(
		`SELECT action_score FROM actions WHERE hand_id='h1' AND action_order=4`).Scan(&score))
	require.True(t, score.Valid)
	assert.InDelta(t, 0.41, score.Float64, 1e-9)

	require.NoError(t, db.QueryRow(
		`SELECT action_score FROM actions WHERE hand_id='h1' AND action_order=5`).Scan(&score))
	require.True(t, score.Valid)
	assert.InDelta(t, 0.77, score.Float64, 1e-9)

	// Preflop rows never get solver scores from this path.
	require.NoError(t, db.QueryRow(
		`SELECT action_score FROM actions WHERE hand_id='h1' AND action_order=0`).Scan(&score))
	assert.False(t, score.Valid)
}

func TestStageUsesPartialScoresSidecar(t *testing.T) {
	env := newTestEnv(t)

	storeHand(t, env, "h1", "2024-01-15", 0, fourHandedHand("rrcc[AhKsQd]xx"))
	require.NoError(t, env.Raw.InsertPartialScores([]rawstore.PartialScoresRow{
		{ID: "h1", JSON: `{"rrcc[AhKsQd]": 0.33}`},
	}))

	require.NoError(t, New().Run(context.Background(), env))

	var score sql.NullFloat64
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT action_score FROM actions WHERE hand_id='h1' AND action_order=4`).Scan(&score))
	require.True(t, score.Valid)
	assert.InDelta(t, 0.33, score.Float64, 1e-9)
}

func TestStageStrippedRaiseMatch(t *testing.T) {
	env := newTestEnv(t)

	// Stored node has a different raise amount than the replayed prefix;
	// the digit-stripped comparison still pairs them.
	h := fourHandedHand("rrcc[AhKsQd]xr200c")
	h["partial_scores"] = map[string]interface{}{
		"rrcc[AhKsQd]xr250": 0.9,
	}
	storeHand(t, env, "h1", "2024-01-15", 0, h)

	require.NoError(t, New().Run(context.Background(), env))

	var score sql.NullFloat64
	require.NoError(t, env.Analytic.DB().QueryRow(
		`SELECT action_score FROM actions WHERE hand_id='h1' AND action_order=6`).Scan(&score))
	require.True(t, score.Valid)
	assert.InDelta(t, 0.9, score.Float64, 1e-9)
}
