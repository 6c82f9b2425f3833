// Package intention implements the sixth pipeline stage: mapping each
// labeled, scored action to an intention word (semi-bluff, thin-value,
// max-value, ...) through per-situation JSON files keyed by street and
// action label.
package intention

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
)

//go:embed intentions
var intentionFS embed.FS

const batchSize = 500

// mapping is the shape of one {street}/{label}.json file. Detailed
// mappings key on the seven fine size buckets, strength mappings on the
// coarse small/medium/large groups.
type mapping struct {
	Detailed map[string]map[string]string `json:"detailed_mappings"`
	Grouped  map[string]map[string]string `json:"strength_mappings"`
}

var sizeGroup = map[string]string{
	"tiny": "small", "small": "small",
	"medium": "medium",
	"big": "large", "pot": "large", "over": "large", "huge": "large",
}

// Stage fills the intention column.
type Stage struct {
	cache map[string]*mapping
}

// New returns the stage.
func New() *Stage { return &Stage{cache: make(map[string]*mapping)} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "intention" }

type intentionUpdate struct {
	intention string
	handID    string
	order     int
}

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()

	rows, err := env.Analytic.DB().Query(`
		SELECT hand_id, action_order, street, action_label, j_score,
		       invested_this_action, pot_before
		FROM actions
		WHERE intention IS NULL AND action_label IS NOT NULL AND j_score IS NOT NULL
		ORDER BY hand_id, action_order`)
	if err != nil {
		return fmt.Errorf("pending intention rows: %w", err)
	}
	defer rows.Close()

	var batch []intentionUpdate
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := applyIntentions(env, batch); err != nil {
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
			street, label string
			jScore        float64
			invested, pot sql.NullInt64
		)
		if err := rows.Scan(&handID, &order, &street, &label, &jScore, &invested, &pot); err != nil {
			return err
		}
		batch = append(batch, intentionUpdate{
			intention: s.Intention(street, label, jScore, invested.Int64, pot.Int64),
			handID:    handID,
			order:     order,
		})
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

	log.Info().Int("actions", total).Msg("intention mapping complete")
	return nil
}

// Intention resolves the intention word for one action.
func (s *Stage) Intention(street, label string, jScore float64, invested, potBefore int64) string {
	street = strings.ToLower(street)
	label = strings.ToLower(label)

	switch label {
	case "check":
		return "check"
	case "call", "fold":
		if s.load(street, label) == nil {
			return label + "-" + strengthWord(jScore, "weak", "medium", "strong")
		}
	}

	m := s.load(street, label)
	if m == nil {
		m = s.load(street, "raise")
	}

	strength := strengthWord(jScore, "low", "medium", "high")
	size := sizeBucket(invested, potBefore)

	if m != nil {
		if v := m.Detailed[strength][size]; v != "" {
			return v
		}
		if v := m.Grouped[strength][sizeGroup[size]]; v != "" {
			return v
		}
	}
	return fmt.Sprintf("%s-%s-%s", label, strength, size)
}

func strengthWord(jScore float64, low, mid, high string) string {
	switch {
	case jScore <= 33:
		return low
	case jScore <= 66:
		return mid
	default:
		return high
	}
}

// sizeBucket maps the invested-to-pot ratio onto the seven sizing buckets.
// A missing pot counts as a zero ratio.
func sizeBucket(invested, potBefore int64) string {
	var ratio float64
	if potBefore > 0 {
		ratio = float64(invested) / float64(potBefore)
	}
	switch {
	case ratio < 0.20:
		return "tiny"
	case ratio < 0.35:
		return "small"
	case ratio < 0.55:
		return "medium"
	case ratio < 0.85:
		return "big"
	case ratio < 1.10:
		return "pot"
	case ratio < 1.75:
		return "over"
	default:
		return "huge"
	}
}

// load fetches and caches a mapping file, nil when absent or unreadable.
func (s *Stage) load(street, label string) *mapping {
	key := street + "/" + label
	if m, ok := s.cache[key]; ok {
		return m
	}
	var result *mapping
	data, err := intentionFS.ReadFile("intentions/" + street + "/" + label + ".json")
	if err == nil {
		var m mapping
		if json.Unmarshal(data, &m) == nil {
			result = &m
		}
	}
	s.cache[key] = result
	return result
}

func applyIntentions(env *etl.Env, batch []intentionUpdate) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE actions SET intention = ?
			WHERE hand_id = ? AND action_order = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range batch {
			if _, err := stmt.Exec(u.intention, u.handID, u.order); err != nil {
				return err
			}
		}
		return nil
	})
}
