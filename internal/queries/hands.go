package queries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// HandSearch filters the advanced hand search. Zero values mean "no
// constraint"; MaxPotBB of zero disables the upper bound.
type HandSearch struct {
	Player   string  // substring of player_id or nickname
	MinPotBB float64 // pot_after lower bound, in big blinds
	MaxPotBB float64 // pot_after upper bound, in big blinds
	Street   string
	Position string
	GameType string // "cash", "mtt" or ""
	Limit    int
}

// HandSearchRow is one matched action with its hand context.
type HandSearchRow struct {
	HandID    string          `json:"hand_id"`
	HandDate  string          `json:"timestamp"`
	PlayerID  string          `json:"player_id"`
	Nickname  sql.NullString  `json:"nickname"`
	Street    string          `json:"street"`
	Position  sql.NullString  `json:"position"`
	Action    string          `json:"action"`
	PotSizeBB float64         `json:"pot_size_bb"`
	JScore    sql.NullFloat64 `json:"j_score"`
	SizeFrac  sql.NullFloat64 `json:"size_frac"`
	PotType   sql.NullString  `json:"pot_type"`
	Players   sql.NullInt64   `json:"players_count"`
	GameType  string          `json:"game_type"`
}

// SearchHands runs the filtered hand search, newest hands first.
func (s *Service) SearchHands(ctx context.Context, f HandSearch) ([]HandSearchRow, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT a.hand_id, h.hand_date, a.player_id, a.nickname, a.street,
		       a.position, a.action, a.pot_after, a.j_score, a.size_frac,
		       h.pot_type, h.players_cnt, h.big_blind, h.is_cash, h.is_mtt
		FROM actions a
		JOIN hand_info h ON h.hand_id = a.hand_id
		WHERE a.player_id IS NOT NULL AND a.player_id != ''`)
	var args []interface{}

	if f.Player != "" {
		sb.WriteString(` AND (a.player_id LIKE ? OR a.nickname LIKE ?)`)
		like := "%" + f.Player + "%"
		args = append(args, like, like)
	}
	if f.MinPotBB > 0 {
		sb.WriteString(` AND h.big_blind > 0 AND a.pot_after >= ? * h.big_blind`)
		args = append(args, f.MinPotBB)
	}
	if f.MaxPotBB > 0 {
		sb.WriteString(` AND h.big_blind > 0 AND a.pot_after <= ? * h.big_blind`)
		args = append(args, f.MaxPotBB)
	}
	if f.Street != "" {
		sb.WriteString(` AND a.street = ?`)
		args = append(args, f.Street)
	}
	if f.Position != "" {
		sb.WriteString(` AND a.position = ?`)
		args = append(args, f.Position)
	}
	switch strings.ToLower(f.GameType) {
	case "cash":
		sb.WriteString(` AND h.is_cash = 1`)
	case "mtt":
		sb.WriteString(` AND h.is_mtt = 1`)
	}
	sb.WriteString(` ORDER BY h.hand_date DESC, a.action_order ASC LIMIT ?`)
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("hand search: %w", err)
	}
	defer rows.Close()

	var out []HandSearchRow
	for rows.Next() {
		var (
			r             HandSearchRow
			potAfter, bb  sql.NullFloat64
			isCash, isMTT int
		)
		if err := rows.Scan(&r.HandID, &r.HandDate, &r.PlayerID, &r.Nickname, &r.Street,
			&r.Position, &r.Action, &potAfter, &r.JScore, &r.SizeFrac,
			&r.PotType, &r.Players, &bb, &isCash, &isMTT); err != nil {
			return nil, fmt.Errorf("scan hand search row: %w", err)
		}
		if potAfter.Valid && bb.Valid && bb.Float64 > 0 {
			r.PotSizeBB = round1(potAfter.Float64 / bb.Float64)
		}
		switch {
		case isCash == 1:
			r.GameType = "Cash"
		case isMTT == 1:
			r.GameType = "MTT"
		default:
			r.GameType = "Unknown"
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HandAction is one action row of a hand replay.
type HandAction struct {
	ActionOrder int             `json:"action_order"`
	Street      string          `json:"street"`
	Position    sql.NullString  `json:"position"`
	PlayerID    sql.NullString  `json:"player_id"`
	Nickname    sql.NullString  `json:"nickname"`
	Action      string          `json:"action"`
	AmountTo    sql.NullFloat64 `json:"amount_to"`
	Invested    sql.NullFloat64 `json:"invested_this_action"`
	PotBefore   sql.NullFloat64 `json:"pot_before"`
	PotAfter    sql.NullFloat64 `json:"pot_after"`
	PlayersLeft sql.NullInt64   `json:"players_left"`
	Board       sql.NullString  `json:"board_cards"`
	Holecards   sql.NullString  `json:"holecards"`
	SizeFrac    sql.NullFloat64 `json:"size_frac"`
	SizeCat     sql.NullString  `json:"size_cat"`
	ActionLabel sql.NullString  `json:"action_label"`
	IPStatus    sql.NullString  `json:"ip_status"`
	JScore      sql.NullFloat64 `json:"j_score"`
	Intention   sql.NullString  `json:"intention"`
}

// HandDetail is the full replay of one hand.
type HandDetail struct {
	HandID     string          `json:"hand_id"`
	HandDate   sql.NullString  `json:"hand_date"`
	BigBlind   sql.NullFloat64 `json:"big_blind"`
	SmallBlind sql.NullFloat64 `json:"small_blind"`
	Ante       sql.NullFloat64 `json:"ante"`
	PotType    sql.NullString  `json:"pot_type"`
	PlayersCnt sql.NullInt64   `json:"players_cnt"`
	Actions    []HandAction    `json:"actions"`
}

// HandDetail returns a hand's header and ordered action rows, or (nil, nil)
// for an unknown hand.
func (s *Service) HandDetail(ctx context.Context, handID string) (*HandDetail, error) {
	var d HandDetail
	d.HandID = handID
	err := s.db.QueryRowContext(ctx, `
		SELECT hand_date, big_blind, small_blind, ante, pot_type, players_cnt
		FROM hand_info WHERE hand_id = ?`, handID).
		Scan(&d.HandDate, &d.BigBlind, &d.SmallBlind, &d.Ante, &d.PotType, &d.PlayersCnt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hand info for %s: %w", handID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_order, street, position, player_id, nickname, action,
		       amount_to, invested_this_action, pot_before, pot_after,
		       players_left, board_cards, holecards,
		       size_frac, size_cat, action_label, ip_status, j_score, intention
		FROM actions
		WHERE hand_id = ?
		ORDER BY action_order`, handID)
	if err != nil {
		return nil, fmt.Errorf("hand actions for %s: %w", handID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a HandAction
		if err := rows.Scan(&a.ActionOrder, &a.Street, &a.Position, &a.PlayerID, &a.Nickname, &a.Action,
			&a.AmountTo, &a.Invested, &a.PotBefore, &a.PotAfter,
			&a.PlayersLeft, &a.Board, &a.Holecards,
			&a.SizeFrac, &a.SizeCat, &a.ActionLabel, &a.IPStatus, &a.JScore, &a.Intention); err != nil {
			return nil, fmt.Errorf("scan hand action: %w", err)
		}
		d.Actions = append(d.Actions, a)
	}
	return &d, rows.Err()
}
