// Package labeler implements the fourth pipeline stage: assigning each
// action a semantic label (open, 3bet, cbet, checkraise, ...) and an IP/OOP
// status from a rule file applied over a per-hand replay.
package labeler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

const commitEvery = 5000

// Stage fills action_label and ip_status.
type Stage struct {
	rules *RuleSet
}

// New returns the stage with the embedded rule file. A broken rule file is
// not fatal; the tracker falls back to its built-in labels.
func New() *Stage {
	rules, err := DefaultRules()
	if err != nil {
		rules = nil
	}
	return &Stage{rules: rules}
}

// Name implements etl.Stage.
func (s *Stage) Name() string { return "labels" }

type labelUpdate struct {
	label  string
	ip     string
	handID string
	order  int
}

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()
	if s.rules == nil {
		log.Warn().Msg("rule file unavailable, using built-in labels")
	}

	handIDs, err := pendingHands(env)
	if err != nil {
		return err
	}

	var batch []labelUpdate
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := applyUpdates(env, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, handID := range handIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := s.labelHand(env, handID)
		if err != nil {
			return fmt.Errorf("label hand %s: %w", handID, err)
		}
		batch = append(batch, updates...)
		if len(batch) >= commitEvery {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	log.Info().Int("actions", total).Msg("labeling complete")
	return nil
}

func pendingHands(env *etl.Env) ([]string, error) {
	rows, err := env.Analytic.DB().Query(
		`SELECT DISTINCT hand_id FROM actions WHERE action_label IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("pending label hands: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type actionRow struct {
	order    int
	street   string
	position string
	action   string
}

func (s *Stage) labelHand(env *etl.Env, handID string) ([]labelUpdate, error) {
	rows, err := env.Analytic.DB().Query(
		`SELECT action_order, street, position, action FROM actions
		 WHERE hand_id = ? ORDER BY action_order`, handID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []actionRow
	for rows.Next() {
		var a actionRow
		if err := rows.Scan(&a.order, &a.street, &a.position, &a.action); err != nil {
			return nil, err
		}
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, nil
	}

	var preflopPositions []string
	for _, a := range acts {
		if a.street == "preflop" {
			preflopPositions = append(preflopPositions, a.position)
		}
	}
	positions := NewPositionTracker(preflopPositions)
	tracker := NewActionTracker(s.rules)

	out := make([]labelUpdate, 0, len(acts))
	for _, a := range acts {
		ip := positions.IPStatus(a.street, a.position)
		label := tracker.Process(a.street, a.position, a.action, ip)
		out = append(out, labelUpdate{label: label, ip: ip, handID: handID, order: a.order})
	}
	return out, nil
}

func applyUpdates(env *etl.Env, batch []labelUpdate) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE actions SET action_label = ?, ip_status = ?
			WHERE hand_id = ? AND action_order = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range batch {
			if _, err := stmt.Exec(u.label, u.ip, u.handID, u.order); err != nil {
				return err
			}
		}
		return nil
	})
}
