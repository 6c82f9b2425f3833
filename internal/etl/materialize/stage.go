// Package materialize implements the eighth pipeline stage: dropping and
// rebuilding the summary tables the read API serves directly. The rebuild
// runs in one transaction, so a failed build leaves the previous tables in
// place.
package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

const dashboardSummarySQL = `
SELECT
    COUNT(DISTINCT player_id)                                              AS total_players,
    COUNT(DISTINCT hand_id)                                                AS total_hands,
    AVG(CASE WHEN action != 'f' AND street = 'preflop' THEN 1.0 ELSE 0 END)*100 AS avg_vpip,
    AVG(CASE WHEN action LIKE 'r%' AND street = 'preflop' THEN 1.0 ELSE 0 END)*100 AS avg_pfr,
    AVG(j_score)                                                           AS avg_j_score,
    COUNT(action_order)                                                    AS total_actions
FROM actions
WHERE player_id IS NOT NULL AND player_id != ''`

const topPlayersSQL = `
WITH derived AS (
    SELECT
        a.player_id,
        a.nickname,
        COUNT(DISTINCT a.hand_id)                                       AS hands_played,
        AVG(a.j_score)                                                  AS avg_j_score,
        AVG(CASE WHEN a.action != 'f' AND a.street = 'preflop' THEN 1.0 ELSE 0 END)*100 AS vpip,
        AVG(CASE WHEN a.action LIKE 'r%' AND a.street = 'preflop' THEN 1.0 ELSE 0 END)*100 AS pfr,
        AVG(a.preflop_score)                                            AS avg_preflop_score,
        AVG(a.postflop_score)                                           AS avg_postflop_score,
        AVG(CASE WHEN a.street = 'preflop' THEN a.j_score END)          AS preflop_j_score,
        AVG(CASE WHEN a.street = 'flop'   THEN a.j_score END)           AS flop_score,
        AVG(CASE WHEN a.street = 'turn'   THEN a.j_score END)           AS turn_score,
        AVG(CASE WHEN a.street = 'river'  THEN a.j_score END)           AS river_score,
        SUM(p.money_won)                                                AS total_winnings,
        AVG(h.big_blind)                                                AS avg_big_blind
    FROM actions a
    LEFT JOIN players   p ON p.hand_id = a.hand_id AND p.position = a.position
    LEFT JOIN hand_info h ON h.hand_id = a.hand_id
    WHERE a.player_id IS NOT NULL AND a.player_id != ''
    GROUP BY a.player_id, a.nickname
    HAVING hands_played > 10
)
SELECT *,
       ROUND(CASE WHEN avg_big_blind > 0
             THEN (total_winnings/avg_big_blind)/hands_played*100 END, 2) AS winrate_bb100
FROM derived
ORDER BY hands_played DESC
LIMIT 25`

const playerSummarySQL = `
SELECT
    a.player_id                                                        AS player_id,
    a.nickname                                                         AS nickname,
    COUNT(DISTINCT a.hand_id)                                          AS total_hands,
    COUNT(a.action_order)                                              AS total_actions,
    AVG(a.j_score)                                                     AS avg_j_score,
    SUM(CASE WHEN a.action != 'f' AND a.street = 'preflop' THEN 1 ELSE 0 END) AS vpip_cnt,
    SUM(CASE WHEN a.action LIKE 'r%' AND a.street = 'preflop' THEN 1 ELSE 0 END) AS pfr_cnt,
    SUM(CASE WHEN a.street = 'preflop' THEN 1 END)                     AS preflop_actions,
    SUM(CASE WHEN a.street = 'river' AND a.action = 'c' THEN 1 ELSE 0 END) AS river_call_cnt,
    ROUND(AVG(a.preflop_score), 1)                                     AS avg_preflop_score,
    ROUND(AVG(a.postflop_score), 1)                                    AS avg_postflop_score
FROM actions a
WHERE a.player_id IS NOT NULL AND a.player_id != ''
GROUP BY a.player_id, a.nickname`

var supportingIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_actions_player_street ON actions(player_id, street)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_street_action ON actions(street, action)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_player_hand ON actions(player_id, hand_id)`,
}

// Stage rebuilds dashboard_summary, top25_players and player_summary.
type Stage struct{}

// New returns the stage.
func New() *Stage { return &Stage{} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "materialize" }

// Run implements etl.Stage. When another materializer holds the build lock
// the stage skips quietly; the running build will produce fresher tables
// anyway.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()
	db := env.Analytic.DB()

	if dir := lockDir(db.Path()); dir != "" {
		lock := database.NewFileLock(dir, database.MaterializeLockName)
		ok, err := lock.TryAcquire()
		if err != nil {
			return fmt.Errorf("materialize lock: %w", err)
		}
		if !ok {
			log.Info().Msg("materialize already in progress, skipped")
			return nil
		}
		defer lock.Release()
	}

	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if err := rebuild(tx); err != nil {
			return err
		}
		return fillDerivedMetrics(tx)
	})
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	for _, stmt := range supportingIndexes {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("materialize index: %w", err)
		}
	}

	log.Info().Msg("summary tables rebuilt")
	return nil
}

func lockDir(dbPath string) string {
	if dbPath == "" || dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return ""
	}
	return filepath.Dir(dbPath)
}

func rebuild(tx *sql.Tx) error {
	steps := []string{
		`DROP TABLE IF EXISTS dashboard_summary`,
		`CREATE TABLE dashboard_summary AS ` + dashboardSummarySQL,
		`DROP TABLE IF EXISTS top25_players`,
		`CREATE TABLE top25_players AS ` + topPlayersSQL,
		`ALTER TABLE top25_players ADD COLUMN bet_deviance REAL`,
		`ALTER TABLE top25_players ADD COLUMN tilt_factor REAL`,
		`ALTER TABLE top25_players ADD COLUMN calldown_accuracy REAL`,
		`CREATE INDEX idx_top25_player_id ON top25_players(player_id)`,
		`DROP TABLE IF EXISTS player_summary`,
		`CREATE TABLE player_summary AS ` + playerSummarySQL,
		`CREATE INDEX idx_ps_player_id ON player_summary(player_id)`,
	}
	for _, stmt := range steps {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// playerSeries collects the per-action series the derived metrics are
// computed from, in session order.
type playerSeries struct {
	sizeFracs     []float64
	jScores       []float64
	riverCallHits []float64
}

// fillDerivedMetrics computes bet_deviance (spread of bet sizings),
// tilt_factor (negated slope of decision quality over the session, positive
// when quality degrades) and calldown_accuracy (share of river calls made
// with a strong hand) for every player in top25_players.
func fillDerivedMetrics(tx *sql.Tx) error {
	rows, err := tx.Query(`
		SELECT a.player_id, a.street, a.action, a.size_frac, a.j_score
		FROM actions a
		JOIN hand_info h ON h.hand_id = a.hand_id
		WHERE a.player_id IN (SELECT player_id FROM top25_players)
		ORDER BY a.player_id, h.hand_date, h.seq, a.action_order`)
	if err != nil {
		return err
	}
	defer rows.Close()

	series := make(map[string]*playerSeries)
	for rows.Next() {
		var playerID, street, action string
		var sizeFrac, jScore sql.NullFloat64
		if err := rows.Scan(&playerID, &street, &action, &sizeFrac, &jScore); err != nil {
			return err
		}
		ps := series[playerID]
		if ps == nil {
			ps = &playerSeries{}
			series[playerID] = ps
		}
		if sizeFrac.Valid {
			ps.sizeFracs = append(ps.sizeFracs, sizeFrac.Float64)
		}
		if jScore.Valid {
			ps.jScores = append(ps.jScores, jScore.Float64)
		}
		if street == "river" && action == "c" && jScore.Valid {
			hit := 0.0
			if jScore.Float64 >= 50 {
				hit = 1.0
			}
			ps.riverCallHits = append(ps.riverCallHits, hit)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`UPDATE top25_players
		SET bet_deviance = ?, tilt_factor = ?, calldown_accuracy = ?
		WHERE player_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for playerID, ps := range series {
		var dev, tilt, calldown sql.NullFloat64
		if len(ps.sizeFracs) >= 2 {
			dev = sql.NullFloat64{Float64: stat.StdDev(ps.sizeFracs, nil), Valid: true}
		}
		if len(ps.jScores) >= 2 {
			xs := make([]float64, len(ps.jScores))
			for i := range xs {
				xs[i] = float64(i)
			}
			_, beta := stat.LinearRegression(xs, ps.jScores, nil, false)
			tilt = sql.NullFloat64{Float64: -beta, Valid: true}
		}
		if len(ps.riverCallHits) > 0 {
			calldown = sql.NullFloat64{Float64: stat.Mean(ps.riverCallHits, nil), Valid: true}
		}
		if _, err := stmt.Exec(dev, tilt, calldown, playerID); err != nil {
			return err
		}
	}
	return nil
}
