// Package strength implements the fifth pipeline stage: the j_score, a
// 1-100 hand strength figure. Preflop strength comes from the embedded
// range list (Chen formula when the combo is unranked); postflop strength
// is the made-hand percentile, discounted by how much of the pot the action
// risks.
package strength

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/poker"
)

const batchSize = 5000

// Risk is capped at five pot-sized bets.
const riskCap = 5.0

var cardRe = regexp.MustCompile(`[2-9TJQKA][shdcSHDC]`)

// Stage fills j_score on every action row.
type Stage struct{}

// New returns the stage.
func New() *Stage { return &Stage{} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "strength" }

type scoreUpdate struct {
	score  float64
	handID string
	order  int
}

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()

	rows, err := env.Analytic.DB().Query(`
		SELECT hand_id, action_order, street, holecards, board_cards,
		       invested_this_action, pot_before
		FROM actions WHERE j_score IS NULL`)
	if err != nil {
		return fmt.Errorf("pending strength rows: %w", err)
	}
	defer rows.Close()

	var batch []scoreUpdate
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := applyScores(env, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			handID        string
			order         int
			street        string
			hole, board   sql.NullString
			invested, pot sql.NullInt64
		)
		if err := rows.Scan(&handID, &order, &street, &hole, &board, &invested, &pot); err != nil {
			return err
		}

		score := Score(street, hole.String, board.String, invested.Int64, pot.Int64)
		batch = append(batch, scoreUpdate{score: score, handID: handID, order: order})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	log.Info().Int("actions", total).Msg("strength scoring complete")
	return nil
}

// Score computes the j_score for one action. The result is scaled to 1-100
// and rounded to one decimal.
func Score(street, holecards, board string, invested, potBefore int64) float64 {
	street = strings.ToLower(street)

	var base, adj float64
	if street == "preflop" {
		base = preflopBase(holecards)
		adj = 1.0
	} else {
		base = postflopBase(holecards, board)
		adj = riskAdjustment(invested, potBefore)
	}

	base = math.Max(0, math.Min(base, 1))
	return math.Round(base*adj*99*10+10) / 10
}

func preflopBase(holecards string) float64 {
	cards, ok := parseTwo(holecards)
	if !ok {
		return 0.25
	}
	return poker.PreflopStrength(cards[0], cards[1])
}

// postflopBase is the percentile of the best made hand over holecards plus
// board. Fewer than five known cards give a neutral half.
func postflopBase(holecards, board string) float64 {
	hole, ok := parseTwo(holecards)
	if !ok {
		return 0.5
	}
	boardCards := parseAll(board)
	all := append(hole, boardCards...)
	if len(all) < 5 || len(all) > 7 {
		return 0.5
	}
	rank, err := poker.Evaluate(all)
	if err != nil {
		return 0.5
	}
	return 1 - rank.Percentile()
}

// riskAdjustment discounts strength by the fraction of the pot invested,
// logarithmically, so an all-in shove counts much heavier than a small bet.
func riskAdjustment(invested, potBefore int64) float64 {
	if potBefore == 0 {
		return 1.0
	}
	r := math.Min(float64(invested)/float64(potBefore), riskCap)
	return 1 - math.Log1p(r)/math.Log1p(riskCap)
}

// parseTwo extracts exactly the first two card tokens from a free-form
// holecard string ("Ah,Ks" or "AhKs").
func parseTwo(s string) ([]poker.Card, bool) {
	cards := parseAll(s)
	if len(cards) < 2 {
		return nil, false
	}
	return cards[:2], true
}

func parseAll(s string) []poker.Card {
	var out []poker.Card
	for _, m := range cardRe.FindAllString(s, -1) {
		c, err := poker.ParseCard(m)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func applyScores(env *etl.Env, batch []scoreUpdate) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE actions SET j_score = ?
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
}
