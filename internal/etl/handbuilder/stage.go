package handbuilder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/rawstore"
	"github.com/velstad/handmill/internal/upstream"
)

// Stage replays raw hands into the analytic tables. Each hand's writes are
// one transaction; a malformed hand is logged and skipped without touching
// the rest of the batch.
type Stage struct{}

// New returns the stage.
func New() *Stage { return &Stage{} }

// Name implements etl.Stage.
func (s *Stage) Name() string { return "build" }

// Run implements etl.Stage.
func (s *Stage) Run(ctx context.Context, env *etl.Env) error {
	log := env.Log.With().Str("stage", s.Name()).Logger()

	done, err := doneIDs(env)
	if err != nil {
		return err
	}

	imported, skipped := 0, 0
	err = env.Raw.IterHands("", func(r rawstore.HandRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done[r.ID] {
			return nil
		}

		var hand upstream.Hand
		if err := json.Unmarshal([]byte(r.RawJSON), &hand); err != nil {
			log.Warn().Err(err).Str("hand_id", r.ID).Msg("unparseable hand JSON, skipped")
			skipped++
			return nil
		}

		chipValue := 1.0
		if r.ChipValue.Valid && r.ChipValue.Float64 != 0 {
			chipValue = r.ChipValue.Float64
		}
		extra, err := extraScores(env, r.ID, hand)
		if err != nil {
			return err
		}

		parsed, err := ParseHand(hand, extra, r.HandDate, r.Seq, chipValue, env.Cfg != nil && env.Cfg.NormalizeCur)
		if err != nil {
			log.Warn().Err(err).Str("hand_id", r.ID).Msg("hand replay failed, skipped")
			skipped++
			return nil
		}

		if err := insertHand(env, parsed); err != nil {
			return fmt.Errorf("insert hand %s: %w", r.ID, err)
		}

		imported++
		if imported%200 == 0 {
			env.Publish(progress.Event{Phase: s.Name(), Count: imported})
			log.Info().Int("imported", imported).Msg("hands imported")
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("imported", imported).Int("skipped", skipped).Msg("build complete")
	return nil
}

func doneIDs(env *etl.Env) (map[string]bool, error) {
	rows, err := env.Analytic.DB().Query(`SELECT hand_id FROM hand_info`)
	if err != nil {
		return nil, fmt.Errorf("load processed hand ids: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = true
	}
	return done, rows.Err()
}

// extraScores loads the partial_scores sidecar when the hand JSON itself
// carries none.
func extraScores(env *etl.Env, handID string, hand upstream.Hand) (map[string]interface{}, error) {
	if len(hand.Map("partial_scores")) > 0 {
		return nil, nil
	}
	raw, ok, err := env.Raw.PartialScores(handID)
	if err != nil || !ok {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, nil
	}
	return m, nil
}

func insertHand(env *etl.Env, p *Parsed) error {
	return database.WithTransaction(env.Analytic.DB().Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO hand_info
			(hand_id, hand_date, seq, is_mtt, is_cash, big_blind, small_blind, ante, players_cnt, pot_type)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			p.Info.HandID, p.Info.HandDate, p.Info.Seq, p.Info.IsMTT, p.Info.IsCash,
			p.Info.BigBlind, p.Info.SmallBlind, p.Info.Ante, p.Info.PlayersCnt, p.Info.PotType); err != nil {
			return err
		}

		for _, st := range p.Streets {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO streets (hand_id, street, board) VALUES (?,?,?)`,
				st.HandID, st.Street, st.Board); err != nil {
				return err
			}
		}

		for _, pl := range p.Players {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO players
				(hand_id, position, nickname, stack0, holecards, money_won) VALUES (?,?,?,?,?,?)`,
				pl.HandID, pl.Position, pl.Nickname, pl.Stack0, pl.Holecards, pl.MoneyWon); err != nil {
				return err
			}
		}

		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO actions
			(hand_id, action_order, street, street_index, position, player_id, nickname,
			 action, amount_to, stack_before, stack_after, invested_this_action,
			 pot_before, pot_after, players_left, is_allin, state_prefix, board_cards, holecards)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range p.Actions {
			if _, err := stmt.Exec(a.HandID, a.ActionOrder, a.Street, a.StreetIndex, a.Position,
				a.PlayerID, a.Nickname, a.Action, a.AmountTo, a.StackBefore, a.StackAfter,
				a.Invested, a.PotBefore, a.PotAfter, a.PlayersLeft, a.IsAllin,
				a.StatePrefix, a.BoardCards, a.Holecards); err != nil {
				return err
			}
		}

		for _, sc := range p.Scores {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO postflop_scores
				(hand_id, node_string, action_score, decision_difficulty) VALUES (?,?,?,?)`,
				sc.HandID, sc.NodeString, sc.ActionScore, sc.DecisionDifficulty); err != nil {
				return err
			}
		}

		return fillMissingScores(tx, p.Info.HandID)
	})
}

var raiseDigitsRe = regexp.MustCompile(`r\d+`)

func stripRaiseAmounts(s string) string {
	return raiseDigitsRe.ReplaceAllString(s, "r")
}

// fillMissingScores copies solver scores onto postflop action rows by
// matching state_prefix against the stored node strings: exact match first,
// then a match with raise amounts stripped from both sides.
func fillMissingScores(tx *sql.Tx, handID string) error {
	type node struct {
		str string
		sc  sql.NullFloat64
		dd  sql.NullFloat64
	}
	rows, err := tx.Query(`SELECT node_string, action_score, decision_difficulty
		FROM postflop_scores WHERE hand_id = ? ORDER BY LENGTH(node_string)`, handID)
	if err != nil {
		return err
	}
	var nodes []node
	for rows.Next() {
		var n node
		if err := rows.Scan(&n.str, &n.sc, &n.dd); err != nil {
			rows.Close()
			return err
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	exact := make(map[string]node, len(nodes))
	for _, n := range nodes {
		if _, dup := exact[n.str]; !dup {
			exact[n.str] = n
		}
	}

	type upd struct {
		sc, dd sql.NullFloat64
		order  int
	}
	var updates []upd
	actRows, err := tx.Query(`SELECT action_order, state_prefix FROM actions
		WHERE hand_id = ? AND action_score IS NULL AND street != 'preflop'`, handID)
	if err != nil {
		return err
	}
	for actRows.Next() {
		var order int
		var prefix string
		if err := actRows.Scan(&order, &prefix); err != nil {
			actRows.Close()
			return err
		}
		// The score keys the situation before the decision; the root node
		// may be stored under the literal name "root".
		wanted := prefix
		if wanted == "" {
			wanted = "root"
		}
		if n, ok := exact[wanted]; ok {
			updates = append(updates, upd{sc: n.sc, dd: n.dd, order: order})
			continue
		}
		wantedStripped := stripRaiseAmounts(wanted)
		for _, n := range nodes {
			if stripRaiseAmounts(n.str) == wantedStripped {
				updates = append(updates, upd{sc: n.sc, dd: n.dd, order: order})
				break
			}
		}
	}
	actRows.Close()
	if err := actRows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.Exec(`UPDATE actions SET action_score = ?, decision_difficulty = ?
			WHERE hand_id = ? AND action_order = ?`, u.sc, u.dd, handID, u.order); err != nil {
			return err
		}
	}
	return nil
}
