// Package sizing implements the third pipeline stage: classifying every bet
// and raise into a size fraction and one of seven size buckets.
package sizing

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

const batchSize = 5000

type bound struct {
	label  string
	lo, hi float64
}

// Postflop fractions are relative to pot_before, preflop to the big blind.
// Bounds are half-open [lo, hi).
var postflopBounds = []bound{
	{"tiny", 0.01, 0.20}, {"small", 0.20, 0.35}, {"medium", 0.35, 0.55},
	{"big", 0.55, 0.85}, {"pot", 0.85, 1.10}, {"over", 1.10, 1.75},
	{"huge", 1.75, math.Inf(1)},
}

var preflopBounds = []bound{
	{"tiny", 0.01, 1.50}, {"small", 1.50, 2.25}, {"medium", 2.25, 3.00},
	{"big", 3.00, 3.75}, {"pot", 3.75, 4.50}, {"over", 4.50, 6.00},
	{"huge", 6.00, math.Inf(1)},
}

// Label buckets a size fraction for the given street.
func Label(frac float64, street string) string {
	bounds := postflopBounds
	if street == "preflop" {
		bounds = preflopBounds
	}
	for _, b := range bounds {
		if frac >= b.lo && frac < b.hi {
			return b.label
		}
	}
	return "unknown"
}

// Stage fills size_frac and size_cat on bet and raise actions.
type Stage struct{}

// New returns the stage.
func New() *Stage { return &Stage{} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "sizing" }

type pendingRow struct {
	handID string
	order  int
	frac   sql.NullFloat64
	cat    string
}

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()

	rows, err := env.Analytic.DB().Query(`
		SELECT a.hand_id, a.action_order, a.street,
		       a.amount_to, a.invested_this_action, a.pot_before,
		       hi.big_blind
		FROM actions a
		JOIN hand_info hi ON hi.hand_id = a.hand_id
		WHERE a.size_cat IS NULL
		  AND (a.action LIKE 'r%' OR a.action LIKE 'b%')`)
	if err != nil {
		return fmt.Errorf("pending sizing rows: %w", err)
	}
	defer rows.Close()

	var batch []pendingRow
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := updateBatch(env, batch); err != nil {
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
			handID           string
			order            int
			street           string
			amountTo, invest sql.NullInt64
			potBefore        sql.NullInt64
			bigBlind         sql.NullFloat64
		)
		if err := rows.Scan(&handID, &order, &street, &amountTo, &invest, &potBefore, &bigBlind); err != nil {
			return err
		}

		p := pendingRow{handID: handID, order: order, cat: "unknown"}
		if f, ok := frac(street, amountTo, invest, potBefore, bigBlind); ok {
			p.frac = sql.NullFloat64{Float64: f, Valid: true}
			p.cat = Label(f, street)
		}
		batch = append(batch, p)
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

	log.Info().Int("actions", total).Msg("sizing complete")
	return nil
}

// frac computes the size fraction. Preflop sizes are measured in big blinds,
// postflop relative to the pot entering the action. A zero denominator means
// no fraction can be assigned.
func frac(street string, amountTo, invested, potBefore sql.NullInt64, bigBlind sql.NullFloat64) (float64, bool) {
	if street == "preflop" {
		if !bigBlind.Valid || bigBlind.Float64 == 0 {
			return 0, false
		}
		return float64(amountTo.Int64) / bigBlind.Float64, true
	}
	if !potBefore.Valid || potBefore.Int64 == 0 {
		return 0, false
	}
	return float64(invested.Int64) / float64(potBefore.Int64), true
}

func updateBatch(env *etl.Env, batch []pendingRow) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE actions SET size_frac = ?, size_cat = ?
			WHERE hand_id = ? AND action_order = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range batch {
			if _, err := stmt.Exec(p.frac, p.cat, p.handID, p.order); err != nil {
				return err
			}
		}
		return nil
	})
}
