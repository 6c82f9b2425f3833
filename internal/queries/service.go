// Package queries is the read-side contract over the analytic store: the
// aggregation SQL the HTTP layer serves. Everything here is read-only and
// safe to run against a store another process is writing to.
package queries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/database"
)

// Service runs read queries against the analytic database.
type Service struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates a query service over the analytic store.
func New(db *database.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log.With().Str("component", "queries").Logger()}
}

// IsReady reports whether the store can serve dashboards: the materializer
// has produced its single summary row and at least one action exists. Any
// query failure (missing table included) reads as not ready.
func (s *Service) IsReady(ctx context.Context) bool {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dashboard_summary`).Scan(&n); err != nil || n != 1 {
		return false
	}
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM actions LIMIT 1`).Scan(&n); err != nil {
		return false
	}
	return true
}

// DashboardSummary is the single materialized overview row.
type DashboardSummary struct {
	TotalPlayers int             `json:"total_players"`
	TotalHands   int             `json:"total_hands"`
	TotalActions int             `json:"total_actions"`
	AvgVPIP      sql.NullFloat64 `json:"avg_vpip"`
	AvgPFR       sql.NullFloat64 `json:"avg_pfr"`
	AvgJScore    sql.NullFloat64 `json:"avg_j_score"`
}

// Dashboard returns the materialized summary row.
func (s *Service) Dashboard(ctx context.Context) (*DashboardSummary, error) {
	var d DashboardSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT total_players, total_hands, total_actions, avg_vpip, avg_pfr, avg_j_score
		FROM dashboard_summary LIMIT 1`).
		Scan(&d.TotalPlayers, &d.TotalHands, &d.TotalActions, &d.AvgVPIP, &d.AvgPFR, &d.AvgJScore)
	if err != nil {
		return nil, fmt.Errorf("dashboard summary: %w", err)
	}
	return &d, nil
}

// TopPlayer is one row of the materialized leaderboard.
type TopPlayer struct {
	PlayerID         string          `json:"player_id"`
	Nickname         sql.NullString  `json:"nickname"`
	HandsPlayed      int             `json:"hands_played"`
	AvgJScore        sql.NullFloat64 `json:"avg_j_score"`
	VPIP             sql.NullFloat64 `json:"vpip"`
	PFR              sql.NullFloat64 `json:"pfr"`
	AvgPreflopScore  sql.NullFloat64 `json:"avg_preflop_score"`
	AvgPostflopScore sql.NullFloat64 `json:"avg_postflop_score"`
	PreflopJScore    sql.NullFloat64 `json:"preflop_j_score"`
	FlopScore        sql.NullFloat64 `json:"flop_score"`
	TurnScore        sql.NullFloat64 `json:"turn_score"`
	RiverScore       sql.NullFloat64 `json:"river_score"`
	WinrateBB100     sql.NullFloat64 `json:"winrate_bb100"`
	BetDeviance      sql.NullFloat64 `json:"bet_deviance"`
	TiltFactor       sql.NullFloat64 `json:"tilt_factor"`
	CalldownAccuracy sql.NullFloat64 `json:"calldown_accuracy"`
}

// TopPlayers returns the materialized leaderboard, most active first.
func (s *Service) TopPlayers(ctx context.Context, limit int) ([]TopPlayer, error) {
	if limit <= 0 || limit > 25 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, nickname, hands_played, avg_j_score, vpip, pfr,
		       avg_preflop_score, avg_postflop_score,
		       preflop_j_score, flop_score, turn_score, river_score,
		       winrate_bb100, bet_deviance, tilt_factor, calldown_accuracy
		FROM top25_players
		ORDER BY hands_played DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}
	defer rows.Close()

	var out []TopPlayer
	for rows.Next() {
		var p TopPlayer
		if err := rows.Scan(&p.PlayerID, &p.Nickname, &p.HandsPlayed, &p.AvgJScore, &p.VPIP, &p.PFR,
			&p.AvgPreflopScore, &p.AvgPostflopScore,
			&p.PreflopJScore, &p.FlopScore, &p.TurnScore, &p.RiverScore,
			&p.WinrateBB100, &p.BetDeviance, &p.TiltFactor, &p.CalldownAccuracy); err != nil {
			return nil, fmt.Errorf("scan top player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AvailableFilters lists the distinct values each segment filter accepts,
// read live from the store. Streets come back in play order.
func (s *Service) AvailableFilters(ctx context.Context) map[string][]string {
	specs := []struct {
		key   string
		query string
	}{
		{"streets", `SELECT DISTINCT street FROM actions WHERE street IS NOT NULL ORDER BY
			CASE street WHEN 'preflop' THEN 0 WHEN 'flop' THEN 1 WHEN 'turn' THEN 2 WHEN 'river' THEN 3 ELSE 4 END`},
		{"positions", `SELECT DISTINCT position FROM actions WHERE position IS NOT NULL ORDER BY position`},
		{"action_labels", `SELECT DISTINCT action_label FROM actions WHERE action_label IS NOT NULL AND action_label != '' ORDER BY action_label`},
		{"pot_types", `SELECT DISTINCT pot_type FROM hand_info WHERE pot_type IS NOT NULL ORDER BY pot_type`},
		{"size_categories", `SELECT DISTINCT size_cat FROM actions WHERE size_cat IS NOT NULL ORDER BY size_cat`},
		{"intentions", `SELECT DISTINCT intention FROM actions WHERE intention IS NOT NULL AND intention != '' AND intention != 'unknown' ORDER BY intention`},
		{"ip_status", `SELECT DISTINCT ip_status FROM actions WHERE ip_status IS NOT NULL ORDER BY ip_status`},
	}

	out := make(map[string][]string, len(specs))
	for _, spec := range specs {
		values := []string{}
		rows, err := s.db.QueryContext(ctx, spec.query)
		if err != nil {
			s.log.Warn().Err(err).Str("filter", spec.key).Msg("filter values query failed")
			out[spec.key] = values
			continue
		}
		for rows.Next() {
			var v string
			if rows.Scan(&v) == nil && v != "" {
				values = append(values, v)
			}
		}
		rows.Close()
		out[spec.key] = values
	}
	return out
}
