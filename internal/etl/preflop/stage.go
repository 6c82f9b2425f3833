// Package preflop implements the second pipeline stage: matching each
// preflop action of a 6-handed hand against a prebuilt solver range
// database to record the played action's frequency and whether it was among
// the node's best choices.
package preflop

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/poker"
)

// Frequencies within this distance of the node max count as best.
const freqTolerance = 1e-9

// Rows are buffered and flushed in batches of this many.
const batchSize = 3000

// The solver stores UTG and LJ interchangeably for 6-max.
var posSynonyms = map[string][]string{
	"UTG": {"LJ", "UTG"},
	"LJ":  {"LJ", "UTG"},
}

// Stage matches preflop actions against the range database.
type Stage struct{}

// New returns the stage.
func New() *Stage { return &Stage{} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "preflop" }

type scoreRow struct {
	handID   string
	position string
	player   string
	combo    string
	seq      string
	freq     sql.NullFloat64
	best     sql.NullString
}

// Run implements etl.Stage. Without a configured range database the stage
// is a no-op.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()
	if env.Ranges == nil {
		log.Info().Msg("no range database configured, stage skipped")
		return nil
	}

	handIDs, err := pendingHands(env)
	if err != nil {
		return err
	}

	var batch []scoreRow
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := insertBatch(env, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	processed := 0
	for _, handID := range handIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := scoreHand(env, handID)
		if err != nil {
			log.Warn().Err(err).Str("hand_id", handID).Msg("preflop scoring failed, skipped")
			continue
		}
		batch = append(batch, rows...)
		processed++
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	log.Info().Int("hands", processed).Msg("preflop scoring complete")
	return nil
}

// pendingHands lists 6-handed hands with no preflop_scores rows yet.
func pendingHands(env *etl.Env) ([]string, error) {
	rows, err := env.Analytic.DB().Query(`
		SELECT hand_id FROM hand_info
		WHERE players_cnt = 6
		AND hand_id NOT IN (SELECT DISTINCT hand_id FROM preflop_scores)
		ORDER BY hand_date, seq`)
	if err != nil {
		return nil, fmt.Errorf("pending preflop hands: %w", err)
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

type preflopAction struct {
	position  string
	nickname  string
	action    string
	holecards string
}

func scoreHand(env *etl.Env, handID string) ([]scoreRow, error) {
	rows, err := env.Analytic.DB().Query(`
		SELECT position, nickname, action, holecards FROM actions
		WHERE hand_id = ? AND street = 'preflop' ORDER BY action_order`, handID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []preflopAction
	for rows.Next() {
		var a preflopAction
		var nick, hole sql.NullString
		if err := rows.Scan(&a.position, &nick, &a.action, &hole); err != nil {
			return nil, err
		}
		a.nickname = nick.String
		a.holecards = hole.String
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]scoreRow, 0, len(acts))
	tokens := make([]string, 0, len(acts))
	for _, a := range acts {
		if a.holecards == "" {
			// Unseen holecards cannot be matched, but the action still
			// extends the sequence for later actors.
			tokens = append(tokens, a.action)
			continue
		}
		seq := toSeq(compressTrailingFolds(tokens))
		combos, err := comboCandidates(a.holecards)
		if err != nil {
			return nil, fmt.Errorf("holecards %q: %w", a.holecards, err)
		}

		freq, maxFreq, err := fetchFreqAndMax(env.Ranges, combos, a.position, likePattern(seq), a.action)
		if err != nil {
			return nil, err
		}

		row := scoreRow{
			handID:   handID,
			position: strings.ToUpper(a.position),
			player:   a.nickname,
			combo:    combos[0],
			seq:      seq,
		}
		switch {
		case !maxFreq.Valid:
			// Node absent from the reference.
		case !freq.Valid:
			// Node exists but the played action has no frequency at all.
			row.freq = sql.NullFloat64{Float64: 0, Valid: true}
			row.best = sql.NullString{String: "n", Valid: true}
		default:
			row.freq = freq
			verdict := "n"
			if math.Abs(freq.Float64-maxFreq.Float64) <= freqTolerance {
				verdict = "y"
			}
			row.best = sql.NullString{String: verdict, Valid: true}
		}
		out = append(out, row)

		tokens = append(tokens, a.action)
	}
	return out, nil
}

// compressTrailingFolds collapses a trailing run of two or more folds into
// one, matching how the reference database stores sequences.
func compressTrailingFolds(tokens []string) []string {
	out := append([]string(nil), tokens...)
	for len(out) >= 2 && out[len(out)-1] == "f" && out[len(out)-2] == "f" {
		out = out[:len(out)-1]
	}
	return out
}

func toSeq(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = strings.ToUpper(t[:1])
	}
	return strings.Join(parts, "-")
}

func likePattern(seq string) string {
	if seq == "" {
		return "%"
	}
	return strings.ToUpper(seq) + "%"
}

// comboCandidates returns the lookup keys for a holecard pair: the
// canonical four-character combo plus the 169-hand key, since reference
// databases exist in both formats. The first entry is the stored combo.
func comboCandidates(holecards string) ([]string, error) {
	joined := strings.ReplaceAll(holecards, ",", "")
	canon, err := poker.CanonicalHolecards(joined)
	if err != nil {
		return nil, err
	}
	cards, err := poker.ParseCards(joined)
	if err != nil {
		return nil, err
	}
	return []string{canon, poker.ComboKey(cards[0], cards[1])}, nil
}

// fetchFreqAndMax retrieves the played action's frequency and the node max
// in one query. For raises the smallest raise size at the node stands in
// for the size actually played.
func fetchFreqAndMax(ranges *database.DB, combos []string, pos, pattern, action string) (sql.NullFloat64, sql.NullFloat64, error) {
	positions := posSynonyms[strings.ToUpper(pos)]
	if positions == nil {
		positions = []string{strings.ToUpper(pos)}
	}

	posPh := placeholders(len(positions))
	comboPh := placeholders(len(combos))

	var freqQuery string
	args := []interface{}{}
	addNodeArgs := func() {
		for _, p := range positions {
			args = append(args, p)
		}
		args = append(args, pattern)
		for _, c := range combos {
			args = append(args, c)
		}
	}

	if strings.HasPrefix(action, "r") {
		freqQuery = fmt.Sprintf(`
			SELECT frequency,
			       (SELECT MAX(frequency) FROM ranges_flat
			        WHERE position IN (%[1]s) AND action_sequence LIKE ? AND combo IN (%[2]s)) AS max_freq
			FROM ranges_flat
			WHERE position IN (%[1]s) AND action_sequence LIKE ? AND combo IN (%[2]s)
			AND action LIKE 'r%%'
			ORDER BY CAST(SUBSTR(action, 2) AS REAL) LIMIT 1`, posPh, comboPh)
		addNodeArgs()
		addNodeArgs()
	} else {
		freqQuery = fmt.Sprintf(`
			SELECT frequency,
			       (SELECT MAX(frequency) FROM ranges_flat
			        WHERE position IN (%[1]s) AND action_sequence LIKE ? AND combo IN (%[2]s)) AS max_freq
			FROM ranges_flat
			WHERE position IN (%[1]s) AND action_sequence LIKE ? AND combo IN (%[2]s)
			AND action = ?`, posPh, comboPh)
		addNodeArgs()
		addNodeArgs()
		args = append(args, strings.ToLower(action))
	}

	var freq, maxFreq sql.NullFloat64
	err := ranges.QueryRow(freqQuery, args...).Scan(&freq, &maxFreq)
	if err == sql.ErrNoRows {
		// The action row is absent; the node itself may still exist.
		maxQuery := fmt.Sprintf(`
			SELECT MAX(frequency) FROM ranges_flat
			WHERE position IN (%s) AND action_sequence LIKE ? AND combo IN (%s)`, posPh, comboPh)
		args = args[:0]
		for _, p := range positions {
			args = append(args, p)
		}
		args = append(args, pattern)
		for _, c := range combos {
			args = append(args, c)
		}
		if err := ranges.QueryRow(maxQuery, args...).Scan(&maxFreq); err != nil {
			return freq, maxFreq, fmt.Errorf("node max lookup: %w", err)
		}
		return sql.NullFloat64{}, maxFreq, nil
	}
	if err != nil {
		return freq, maxFreq, fmt.Errorf("frequency lookup: %w", err)
	}
	return freq, maxFreq, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func insertBatch(env *etl.Env, batch []scoreRow) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO preflop_scores
			(hand_id, position, player, combo, seq, freq, best) VALUES (?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range batch {
			if _, err := stmt.Exec(r.handID, r.position, r.player, r.combo, r.seq, r.freq, r.best); err != nil {
				return err
			}
		}
		return nil
	})
}
