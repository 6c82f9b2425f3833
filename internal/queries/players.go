package queries

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// StreetStats is one street's live aggregate for a player.
type StreetStats struct {
	Street    string          `json:"street"`
	Actions   int             `json:"actions_count"`
	AvgJScore sql.NullFloat64 `json:"avg_j_score"`
	Raises    int             `json:"raise_count"`
	Calls     int             `json:"call_count"`
	Folds     int             `json:"fold_count"`
}

// PositionStats counts a player's hands by starting position.
type PositionStats struct {
	Position  string          `json:"position"`
	Hands     int             `json:"hands"`
	AvgJScore sql.NullFloat64 `json:"avg_j_score"`
}

// PlayerStats is the live per-player aggregate, computed from actions
// rather than the materialized tables so it covers players below the
// leaderboard threshold.
type PlayerStats struct {
	PlayerID         string          `json:"player_id"`
	Nickname         sql.NullString  `json:"nickname"`
	TotalHands       int             `json:"total_hands"`
	TotalActions     int             `json:"total_actions"`
	AvgJScore        sql.NullFloat64 `json:"avg_j_score"`
	VPIP             float64         `json:"vpip"`
	PFR              float64         `json:"pfr"`
	AvgPreflopScore  sql.NullFloat64 `json:"avg_preflop_score"`
	AvgPostflopScore sql.NullFloat64 `json:"avg_postflop_score"`
	Streets          []StreetStats   `json:"street_stats"`
	Positions        []PositionStats `json:"position_stats"`
}

// PlayerStats aggregates one player's record. A player with no actions
// returns (nil, nil).
func (s *Service) PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	var (
		st             PlayerStats
		vpipCnt        int
		pfrCnt         int
		preflopActions int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT player_id, nickname,
		       COUNT(DISTINCT hand_id), COUNT(action_order), AVG(j_score),
		       SUM(CASE WHEN action != 'f' AND street = 'preflop' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN action LIKE 'r%' AND street = 'preflop' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN street = 'preflop' THEN 1 ELSE 0 END),
		       AVG(preflop_score), AVG(postflop_score)
		FROM actions
		WHERE player_id = ?
		GROUP BY player_id, nickname`, playerID).
		Scan(&st.PlayerID, &st.Nickname, &st.TotalHands, &st.TotalActions, &st.AvgJScore,
			&vpipCnt, &pfrCnt, &preflopActions, &st.AvgPreflopScore, &st.AvgPostflopScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("player stats for %s: %w", playerID, err)
	}

	if preflopActions > 0 {
		st.VPIP = round1(float64(vpipCnt) / float64(preflopActions) * 100)
		st.PFR = round1(float64(pfrCnt) / float64(preflopActions) * 100)
	}

	if st.Streets, err = s.playerStreetStats(ctx, playerID); err != nil {
		return nil, err
	}
	if st.Positions, err = s.playerPositionStats(ctx, playerID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) playerStreetStats(ctx context.Context, playerID string) ([]StreetStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT street, COUNT(*), AVG(j_score),
		       SUM(CASE WHEN action LIKE 'r%' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN action = 'c' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN action = 'f' THEN 1 ELSE 0 END)
		FROM actions
		WHERE player_id = ?
		GROUP BY street
		ORDER BY CASE street WHEN 'preflop' THEN 0 WHEN 'flop' THEN 1 WHEN 'turn' THEN 2 ELSE 3 END`, playerID)
	if err != nil {
		return nil, fmt.Errorf("street stats for %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []StreetStats
	for rows.Next() {
		var ss StreetStats
		if err := rows.Scan(&ss.Street, &ss.Actions, &ss.AvgJScore, &ss.Raises, &ss.Calls, &ss.Folds); err != nil {
			return nil, fmt.Errorf("scan street stats: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Starting position is taken from the player's first action of each hand.
func (s *Service) playerPositionStats(ctx context.Context, playerID string) ([]PositionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, COUNT(DISTINCT hand_id), AVG(j_score)
		FROM actions
		WHERE player_id = ? AND street = 'preflop'
		GROUP BY position`, playerID)
	if err != nil {
		return nil, fmt.Errorf("position stats for %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []PositionStats
	for rows.Next() {
		var ps PositionStats
		if err := rows.Scan(&ps.Position, &ps.Hands, &ps.AvgJScore); err != nil {
			return nil, fmt.Errorf("scan position stats: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// RecentHand is one hand in a player's recent history.
type RecentHand struct {
	HandID        string          `json:"hand_id"`
	HandDate      string          `json:"hand_date"`
	Position      sql.NullString  `json:"position"`
	Holecards     sql.NullString  `json:"holecards"`
	PotType       sql.NullString  `json:"pot_type"`
	FinalPotBB    float64         `json:"final_pot_bb"`
	MoneyWon      float64         `json:"money_won"`
	PlayerActions int             `json:"player_actions"`
	AvgJScore     sql.NullFloat64 `json:"avg_j_score"`
	PlayersCnt    sql.NullInt64   `json:"players_count"`
	Blinds        string          `json:"blinds"`
}

// RecentHands lists the player's newest hands with per-hand context.
func (s *Service) RecentHands(ctx context.Context, playerID string, limit int) ([]RecentHand, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.hand_id, h.hand_date, h.big_blind, h.small_blind, h.ante,
		       h.pot_type, h.players_cnt,
		       MAX(a.pot_after),
		       p.position, p.holecards, p.money_won,
		       COUNT(CASE WHEN a.player_id = ? OR a.nickname = ? THEN 1 END),
		       AVG(CASE WHEN a.player_id = ? OR a.nickname = ? THEN a.j_score END)
		FROM actions a
		JOIN hand_info h ON h.hand_id = a.hand_id
		LEFT JOIN players p ON p.hand_id = a.hand_id
		    AND (p.nickname = ? OR p.position IN (
		        SELECT position FROM actions WHERE hand_id = a.hand_id AND player_id = ?))
		WHERE a.hand_id IN (
		    SELECT DISTINCT hand_id FROM actions WHERE player_id = ? OR nickname = ?)
		GROUP BY a.hand_id
		ORDER BY h.hand_date DESC, a.hand_id DESC
		LIMIT ?`,
		playerID, playerID, playerID, playerID,
		playerID, playerID, playerID, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent hands for %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []RecentHand
	for rows.Next() {
		var (
			rh       RecentHand
			bb, sb   sql.NullFloat64
			ante     sql.NullFloat64
			finalPot sql.NullFloat64
			won      sql.NullFloat64
		)
		if err := rows.Scan(&rh.HandID, &rh.HandDate, &bb, &sb, &ante,
			&rh.PotType, &rh.PlayersCnt, &finalPot,
			&rh.Position, &rh.Holecards, &won,
			&rh.PlayerActions, &rh.AvgJScore); err != nil {
			return nil, fmt.Errorf("scan recent hand: %w", err)
		}
		if finalPot.Valid && bb.Valid && bb.Float64 > 0 {
			rh.FinalPotBB = round1(finalPot.Float64 / bb.Float64)
		}
		if won.Valid {
			rh.MoneyWon = math.Round(won.Float64*100) / 100
		}
		rh.Blinds = blindsLabel(sb, bb, ante)
		out = append(out, rh)
	}
	return out, rows.Err()
}

func blindsLabel(sb, bb, ante sql.NullFloat64) string {
	label := fmt.Sprintf("%s/%s", trimFloat(sb), trimFloat(bb))
	if ante.Valid && ante.Float64 > 0 {
		label += "/" + trimFloat(ante)
	}
	return label
}

func trimFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return "?"
	}
	if v.Float64 == math.Trunc(v.Float64) {
		return fmt.Sprintf("%.0f", v.Float64)
	}
	return fmt.Sprintf("%g", v.Float64)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
