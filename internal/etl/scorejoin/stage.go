// Package scorejoin implements the seventh pipeline stage: copying the
// solver scores collected in preflop_scores and postflop_scores onto the
// matching action rows, and optionally rescaling 0-1 scores to 0-100.
package scorejoin

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

const batchSize = 5000

// Stage joins solver scores onto actions. With Normalize set, score columns
// whose maximum is at or below 1.0 are multiplied by 100 afterwards.
type Stage struct {
	Normalize bool
}

// New returns the stage.
func New(normalize bool) *Stage { return &Stage{Normalize: normalize} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "scores" }

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()

	pre, err := joinPreflop(ctx, env)
	if err != nil {
		return err
	}
	post, err := joinPostflop(ctx, env)
	if err != nil {
		return err
	}

	if s.Normalize {
		if err := rescaleColumn(env, "preflop_score"); err != nil {
			return err
		}
		if err := rescaleColumn(env, "postflop_score"); err != nil {
			return err
		}
	}

	log.Info().Int("preflop", pre).Int("postflop", post).Msg("score join complete")
	return nil
}

// canonID strips the site's optional "Hand" prefix so both id spellings
// compare equal.
func canonID(handID string) string {
	return strings.TrimPrefix(handID, "Hand")
}

type preflopScore struct {
	freq float64
	best sql.NullString
}

func joinPreflop(ctx context.Context, env *etl.Env) (int, error) {
	db := env.Analytic.DB()

	scores := make(map[[2]string]preflopScore)
	rows, err := db.Query(`SELECT hand_id, position, freq, best FROM preflop_scores
		WHERE freq IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("load preflop scores: %w", err)
	}
	for rows.Next() {
		var handID, pos string
		var freq float64
		var best sql.NullString
		if err := rows.Scan(&handID, &pos, &freq, &best); err != nil {
			rows.Close()
			return 0, err
		}
		scores[[2]string{canonID(handID), pos}] = preflopScore{freq: freq, best: best}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		return 0, nil
	}

	type update struct {
		score  preflopScore
		handID string
		order  int
	}
	var updates []update

	// Checks carry no range decision, so they never receive a score.
	rows, err = db.Query(`SELECT hand_id, action_order, position FROM actions
		WHERE street = 'preflop' AND preflop_score IS NULL AND action != 'x'`)
	if err != nil {
		return 0, fmt.Errorf("pending preflop joins: %w", err)
	}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			rows.Close()
			return 0, err
		}
		var handID, pos string
		var order int
		if err := rows.Scan(&handID, &order, &pos); err != nil {
			rows.Close()
			return 0, err
		}
		if sc, ok := scores[[2]string{canonID(handID), strings.ToUpper(pos)}]; ok {
			updates = append(updates, update{score: sc, handID: handID, order: order})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for start := 0; start < len(updates); start += batchSize {
		end := start + batchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]
		err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`UPDATE actions SET preflop_score = ?, solver_best = ?
				WHERE hand_id = ? AND action_order = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, u := range batch {
				if _, err := stmt.Exec(u.score.freq, u.score.best, u.handID, u.order); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(updates), nil
}

func joinPostflop(ctx context.Context, env *etl.Env) (int, error) {
	db := env.Analytic.DB()

	// node strings per hand, canonical ids on both sides
	nodes := make(map[string]map[string]float64)
	rows, err := db.Query(`SELECT hand_id, node_string, action_score FROM postflop_scores
		WHERE action_score IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("load postflop scores: %w", err)
	}
	for rows.Next() {
		var handID, node string
		var score float64
		if err := rows.Scan(&handID, &node, &score); err != nil {
			rows.Close()
			return 0, err
		}
		id := canonID(handID)
		if nodes[id] == nil {
			nodes[id] = make(map[string]float64)
		}
		nodes[id][node] = score
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	type update struct {
		score  float64
		handID string
		order  int
	}
	var updates []update

	rows, err = db.Query(`
		SELECT a.hand_id, a.action_order, a.state_prefix, a.action, a.amount_to
		FROM actions a
		WHERE a.street != 'preflop' AND a.postflop_score IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("pending postflop joins: %w", err)
	}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			rows.Close()
			return 0, err
		}
		var handID, action string
		var order int
		var prefix sql.NullString
		var amountTo sql.NullInt64
		if err := rows.Scan(&handID, &order, &prefix, &action, &amountTo); err != nil {
			rows.Close()
			return 0, err
		}

		handNodes := nodes[canonID(handID)]
		if handNodes == nil {
			continue
		}
		expected := expectedNode(prefix.String, action, amountTo)
		if score, ok := matchNode(handNodes, expected); ok {
			updates = append(updates, update{score: score, handID: handID, order: order})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for start := 0; start < len(updates); start += batchSize {
		end := start + batchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]
		err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`UPDATE actions SET postflop_score = ?
				WHERE hand_id = ? AND action_order = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, u := range batch {
				if _, err := stmt.Exec(u.score, u.handID, u.order); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(updates), nil
}

// expectedNode rebuilds the solver node key for an action: the state the
// player faced plus the action taken, raises spelled with their full
// amount.
func expectedNode(statePrefix, action string, amountTo sql.NullInt64) string {
	if strings.HasPrefix(action, "r") && amountTo.Valid && amountTo.Int64 > 0 {
		return fmt.Sprintf("%sr%d", statePrefix, amountTo.Int64)
	}
	return statePrefix + action
}

// matchNode tries exact, then suffix, then prefix matching. Suffix handles
// stored nodes carrying extra leading history; prefix handles stored nodes
// that stop one decision earlier.
func matchNode(handNodes map[string]float64, expected string) (float64, bool) {
	if score, ok := handNodes[expected]; ok {
		return score, true
	}
	for node, score := range handNodes {
		if strings.HasSuffix(node, expected) {
			return score, true
		}
	}
	for node, score := range handNodes {
		if node != "" && strings.HasPrefix(expected, node) {
			return score, true
		}
	}
	return 0, false
}

// rescaleColumn multiplies a score column by 100 when all its values sit in
// the 0-1 range.
func rescaleColumn(env *etl.Env, column string) error {
	db := env.Analytic.DB()
	var max sql.NullFloat64
	if err := db.QueryRow(
		fmt.Sprintf(`SELECT MAX(%s) FROM actions WHERE %s IS NOT NULL`, column, column),
	).Scan(&max); err != nil {
		return fmt.Errorf("rescale %s: %w", column, err)
	}
	if !max.Valid || max.Float64 > 1.0 {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf(
		`UPDATE actions SET %s = %s * 100 WHERE %s IS NOT NULL`, column, column, column))
	return err
}
