package queries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SegmentFilter narrows the action population the comparison aggregates
// run over. Nil pointers and empty strings leave the dimension open.
type SegmentFilter struct {
	Street      string
	Position    string
	ActionLabel string
	PotType     string
	SizeCat     string
	Intention   string
	IPStatus    string
	PlayersLeft *int
	MinJScore   *float64
	MaxJScore   *float64
	MinPreflop  *float64
	MaxPreflop  *float64
	MinPostflop *float64
	MaxPostflop *float64
}

// where renders the filter into SQL conditions over the aliased tables
// (a = actions, h = hand_info).
func (f SegmentFilter) where() (string, []interface{}) {
	conds := []string{"a.player_id IS NOT NULL AND a.player_id != ''"}
	var args []interface{}

	add := func(cond string, val interface{}) {
		conds = append(conds, cond)
		args = append(args, val)
	}
	if f.Street != "" {
		add("a.street = ?", f.Street)
	}
	if f.Position != "" {
		add("a.position = ?", f.Position)
	}
	if f.ActionLabel != "" {
		add("a.action_label = ?", f.ActionLabel)
	}
	if f.PotType != "" {
		add("h.pot_type = ?", f.PotType)
	}
	if f.SizeCat != "" {
		add("a.size_cat = ?", f.SizeCat)
	}
	if f.Intention != "" {
		add("a.intention = ?", f.Intention)
	}
	if f.IPStatus != "" {
		add("a.ip_status = ?", f.IPStatus)
	}
	if f.PlayersLeft != nil {
		add("a.players_left = ?", *f.PlayersLeft)
	}
	if f.MinJScore != nil {
		add("a.j_score >= ?", *f.MinJScore)
	}
	if f.MaxJScore != nil {
		add("a.j_score <= ?", *f.MaxJScore)
	}
	if f.MinPreflop != nil {
		add("a.preflop_score >= ?", *f.MinPreflop)
	}
	if f.MaxPreflop != nil {
		add("a.preflop_score <= ?", *f.MaxPreflop)
	}
	if f.MinPostflop != nil {
		add("a.postflop_score >= ?", *f.MinPostflop)
	}
	if f.MaxPostflop != nil {
		add("a.postflop_score <= ?", *f.MaxPostflop)
	}
	return strings.Join(conds, " AND "), args
}

// SegmentStats is one population's aggregate under a filter.
type SegmentStats struct {
	ActionCount      int             `json:"action_count"`
	HandCount        int             `json:"hand_count"`
	UniquePlayers    int             `json:"unique_players,omitempty"`
	AvgJScore        sql.NullFloat64 `json:"avg_j_score"`
	MinJScore        sql.NullFloat64 `json:"min_j_score"`
	MaxJScore        sql.NullFloat64 `json:"max_j_score"`
	AvgPreflopScore  sql.NullFloat64 `json:"avg_preflop_score"`
	AvgPostflopScore sql.NullFloat64 `json:"avg_postflop_score"`
	RaiseCount       int             `json:"raise_count"`
	CallCount        int             `json:"call_count"`
	FoldCount        int             `json:"fold_count"`
	CheckCount       int             `json:"check_count"`
	AvgRaiseSize     sql.NullFloat64 `json:"avg_raise_size"`
	WinRate          sql.NullFloat64 `json:"win_rate"`
	TotalWinnings    sql.NullFloat64 `json:"total_winnings"`
}

// Comparison bundles a player's segment against the population and an
// optional second player under the same filter.
type Comparison struct {
	Player     SegmentStats  `json:"player_stats"`
	Population SegmentStats  `json:"population_stats"`
	Compared   *SegmentStats `json:"comparison_stats,omitempty"`
	PlayerID   string        `json:"player_id"`
	ComparedID string        `json:"comparison_player_id,omitempty"`
}

const segmentSelect = `
	SELECT COUNT(*), COUNT(DISTINCT a.hand_id), COUNT(DISTINCT a.player_id),
	       AVG(a.j_score), MIN(a.j_score), MAX(a.j_score),
	       AVG(a.preflop_score), AVG(a.postflop_score),
	       SUM(CASE WHEN a.action LIKE 'r%' THEN 1 ELSE 0 END),
	       SUM(CASE WHEN a.action = 'c' THEN 1 ELSE 0 END),
	       SUM(CASE WHEN a.action = 'f' THEN 1 ELSE 0 END),
	       SUM(CASE WHEN a.action = 'x' THEN 1 ELSE 0 END),
	       AVG(CASE WHEN a.action LIKE 'r%' THEN a.size_frac END),
	       AVG(CASE WHEN p.money_won > 0 THEN 1.0 WHEN p.money_won IS NOT NULL THEN 0.0 END) * 100,
	       SUM(p.money_won)
	FROM actions a
	LEFT JOIN hand_info h ON h.hand_id = a.hand_id
	LEFT JOIN players p ON p.hand_id = a.hand_id AND p.position = a.position
	WHERE `

// SegmentedStats aggregates one player, the whole population and optionally
// a comparison player under the same filter.
func (s *Service) SegmentedStats(ctx context.Context, playerID, comparedID string, f SegmentFilter) (*Comparison, error) {
	where, args := f.where()

	player, err := s.segmentStats(ctx, where+" AND (a.player_id = ? OR a.nickname = ?)",
		append(append([]interface{}{}, args...), playerID, playerID))
	if err != nil {
		return nil, fmt.Errorf("player segment for %s: %w", playerID, err)
	}
	population, err := s.segmentStats(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("population segment: %w", err)
	}

	cmp := &Comparison{Player: *player, Population: *population, PlayerID: playerID}
	if comparedID != "" {
		other, err := s.segmentStats(ctx, where+" AND (a.player_id = ? OR a.nickname = ?)",
			append(append([]interface{}{}, args...), comparedID, comparedID))
		if err != nil {
			return nil, fmt.Errorf("comparison segment for %s: %w", comparedID, err)
		}
		cmp.Compared = other
		cmp.ComparedID = comparedID
	}
	return cmp, nil
}

func (s *Service) segmentStats(ctx context.Context, where string, args []interface{}) (*SegmentStats, error) {
	var (
		st                           SegmentStats
		raises, calls, folds, checks sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, segmentSelect+where, args...).
		Scan(&st.ActionCount, &st.HandCount, &st.UniquePlayers,
			&st.AvgJScore, &st.MinJScore, &st.MaxJScore,
			&st.AvgPreflopScore, &st.AvgPostflopScore,
			&raises, &calls, &folds, &checks,
			&st.AvgRaiseSize, &st.WinRate, &st.TotalWinnings)
	if err != nil {
		return nil, err
	}
	st.RaiseCount = int(raises.Int64)
	st.CallCount = int(calls.Int64)
	st.FoldCount = int(folds.Int64)
	st.CheckCount = int(checks.Int64)
	return &st, nil
}

// ScatterFilter narrows the betting-vs-strength dataset.
type ScatterFilter struct {
	PlayerID string
	Streets  []string // default flop/turn/river
	Labels   []string // default common aggression labels
	Limit    int
}

// ScatterPoint is one aggressive action plotted as sizing against strength.
type ScatterPoint struct {
	HandID       string  `json:"hand_id"`
	PlayerID     string  `json:"player_id"`
	Nickname     string  `json:"nickname"`
	Street       string  `json:"street"`
	ActionLabel  string  `json:"action_label"`
	HandStrength float64 `json:"hand_strength"`
	BetSizePct   float64 `json:"bet_size_pct"`
	SizeFrac     float64 `json:"raw_size_frac"`
	PotBefore    float64 `json:"pot_before"`
	Invested     float64 `json:"invested"`
}

var defaultScatterLabels = []string{"bet", "2bet", "3bet", "checkraise", "donk", "probe", "lead", "cont", "cbet"}

// BettingVsStrength returns bet/raise actions with both a strength score
// and a sizing fraction, for the scatter view. Preflop sizings are in big
// blinds and get rescaled to a pot-like percentage; everything is capped to
// plottable ranges and zero-valued points are dropped.
func (s *Service) BettingVsStrength(ctx context.Context, f ScatterFilter) ([]ScatterPoint, error) {
	if f.Limit <= 0 {
		f.Limit = 1000
	}
	streets := f.Streets
	if len(streets) == 0 {
		streets = []string{"flop", "turn", "river"}
	}
	labels := f.Labels
	if len(labels) == 0 {
		labels = defaultScatterLabels
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT a.hand_id, a.player_id, a.nickname, a.street, a.action_label,
		       a.j_score, a.size_frac, a.pot_before, a.invested_this_action
		FROM actions a
		WHERE (a.action LIKE 'r%' OR a.action LIKE 'b%')
		  AND a.j_score IS NOT NULL
		  AND a.size_frac IS NOT NULL AND a.size_frac > 0
		  AND a.action_label IS NOT NULL AND a.action_label != 'fold'`)
	var args []interface{}

	if f.PlayerID != "" {
		sb.WriteString(` AND (a.player_id = ? OR a.nickname = ?)`)
		args = append(args, f.PlayerID, f.PlayerID)
	}
	sb.WriteString(` AND a.street IN (` + placeholders(len(streets)) + `)`)
	for _, st := range streets {
		args = append(args, st)
	}
	sb.WriteString(` AND a.action_label IN (` + placeholders(len(labels)) + `)`)
	for _, l := range labels {
		args = append(args, l)
	}
	sb.WriteString(` ORDER BY a.hand_id DESC, a.action_order ASC LIMIT ?`)
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("betting vs strength: %w", err)
	}
	defer rows.Close()

	var out []ScatterPoint
	for rows.Next() {
		var (
			pt                  ScatterPoint
			nickname            sql.NullString
			jScore, frac        float64
			potBefore, invested sql.NullFloat64
		)
		if err := rows.Scan(&pt.HandID, &pt.PlayerID, &nickname, &pt.Street, &pt.ActionLabel,
			&jScore, &frac, &potBefore, &invested); err != nil {
			return nil, fmt.Errorf("scan scatter point: %w", err)
		}

		sizePct := frac * 100
		if pt.Street == "preflop" {
			sizePct = frac * 100 / 3.0
		}
		if sizePct > 150 {
			sizePct = 150
		}
		strength := jScore
		if strength < 0 {
			strength = 0
		}
		if strength > 100 {
			strength = 100
		}
		if sizePct <= 0 || strength <= 0 {
			continue
		}

		pt.Nickname = nickname.String
		pt.HandStrength = round1(strength)
		pt.BetSizePct = round1(sizePct)
		pt.SizeFrac = frac
		pt.PotBefore = potBefore.Float64
		pt.Invested = invested.Float64
		out = append(out, pt)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
