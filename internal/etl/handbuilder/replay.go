package handbuilder

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/velstad/handmill/internal/upstream"
)

// SeatOrder is the canonical 6-max-and-up seat sequence; preflop action
// follows it directly (first seat acts first, blinds last).
var SeatOrder = []string{"UTG", "UTG1", "UTG2", "LJ", "HJ", "CO", "BTN", "SB", "BB"}

// HandInfoRow mirrors one hand_info record.
type HandInfoRow struct {
	HandID     string
	HandDate   string
	Seq        int
	IsMTT      int
	IsCash     int
	BigBlind   int
	SmallBlind int
	Ante       int
	PlayersCnt int
	PotType    string
}

// StreetRow mirrors one streets record.
type StreetRow struct {
	HandID string
	Street string
	Board  string
}

// PlayerRow mirrors one players record.
type PlayerRow struct {
	HandID    string
	Position  string
	Nickname  string
	Stack0    int
	Holecards string
	MoneyWon  float64
}

// ActionRow mirrors one actions record as inserted by this stage.
type ActionRow struct {
	HandID      string
	ActionOrder int
	Street      string
	StreetIndex int
	Position    string
	PlayerID    string
	Nickname    string
	Action      string
	AmountTo    int
	StackBefore int
	StackAfter  int
	Invested    int
	PotBefore   int
	PotAfter    int
	PlayersLeft int
	IsAllin     int
	StatePrefix string
	BoardCards  string
	Holecards   string
}

// ScoreRow mirrors one postflop_scores record.
type ScoreRow struct {
	HandID             string
	NodeString         string
	ActionScore        *float64
	DecisionDifficulty *float64
}

// Parsed is the full output of replaying one hand.
type Parsed struct {
	Info    HandInfoRow
	Streets []StreetRow
	Players []PlayerRow
	Actions []ActionRow
	Scores  []ScoreRow
}

var raiseAmountRe = regexp.MustCompile(`r(\d+)`)

// ParseHand replays a raw hand into analytic rows. extraScores supplies the
// partial_scores map when the hand JSON itself lacks one. chipValue and
// normalize control currency normalization of every monetary amount.
func ParseHand(h upstream.Hand, extraScores map[string]interface{}, handDate string, seq int, chipValue float64, normalize bool) (*Parsed, error) {
	if !normalize || chipValue == 0 {
		chipValue = 1
	}
	norm := func(v float64) int {
		return int(math.Round(v / chipValue))
	}

	handID := h.ID()
	if handID == "" {
		return nil, fmt.Errorf("hand has no id")
	}

	positions := h.Map("positions")
	if len(positions) == 0 {
		return nil, fmt.Errorf("hand %s has no positions", handID)
	}

	// Seats present in the hand, in canonical order.
	var seats []string
	for _, p := range SeatOrder {
		if _, ok := positions[p]; ok {
			seats = append(seats, p)
		}
	}
	if len(seats) != len(positions) {
		return nil, fmt.Errorf("hand %s has unknown positions", handID)
	}

	info := make(map[string]upstream.Hand, len(seats))
	names := make(map[string]string, len(seats))
	stack0 := make(map[string]int, len(seats))
	invested := make(map[string]int, len(seats))
	for _, p := range seats {
		pi, _ := positions[p].(map[string]interface{})
		if pi == nil {
			return nil, fmt.Errorf("hand %s position %s is malformed", handID, p)
		}
		ph := upstream.Hand(pi)
		info[p] = ph
		names[p] = ph.Str("name", "stub")
		stack0[p] = norm(ph.FloatOr(0, "stack"))
		invested[p] = 0
	}

	bb := norm(h.FloatOr(0, "big_blind_amount"))
	sb := norm(h.FloatOr(0, "small_blind_amount"))
	ante := norm(h.FloatOr(0, "ante_amount"))

	pot := sb + bb + ante*len(seats)
	if _, ok := invested["SB"]; ok {
		invested["SB"] += sb
	}
	if _, ok := invested["BB"]; ok {
		invested["BB"] += bb
	}
	for _, p := range seats {
		invested[p] += ante
	}
	curMax := bb

	streets, err := SplitStreets(h.Str("situation_string"))
	if err != nil {
		return nil, fmt.Errorf("hand %s: %w", handID, err)
	}

	out := &Parsed{
		Info: HandInfoRow{
			HandID:     handID,
			HandDate:   handDate,
			Seq:        seq,
			IsMTT:      boolFlag(h, "is_mtt"),
			IsCash:     boolFlag(h, "is_cash"),
			BigBlind:   bb,
			SmallBlind: sb,
			Ante:       ante,
			PlayersCnt: len(seats),
			PotType:    h.Str("pot_type"),
		},
	}

	for _, p := range seats {
		out.Players = append(out.Players, PlayerRow{
			HandID:    handID,
			Position:  p,
			Nickname:  names[p],
			Stack0:    stack0[p],
			Holecards: holecards(info[p]),
			MoneyWon:  info[p].FloatOr(0, "money_won") / chipValue,
		})
	}

	out.Scores = scoreRows(handID, h, extraScores, chipValue)

	active := append([]string(nil), seats...)
	order := append([]string(nil), seats...)
	state := ""
	boardSeen := ""
	idx := 0

	for stIdx, st := range streets {
		if st.Board != "" {
			boardSeen += st.Board
			out.Streets = append(out.Streets, StreetRow{HandID: handID, Street: st.Name, Board: st.Board})
		}
		if st.Name != "preflop" {
			order = rotatePostflop(active)
		}

		boardToAdd := ""
		if st.Board != "" {
			boardToAdd = "[" + st.Board + "]"
		}

		for _, tk := range st.Tokens {
			if boardToAdd != "" {
				state += boardToAdd
				boardToAdd = ""
			}

			pos := order[0]
			amtTo := 0
			rawToken := tk.Raw
			if tk.Action == 'r' {
				if tk.Raw == "r" {
					// Amountless raise token: treat as a raise to the
					// current price.
					amtTo = curMax
				} else {
					amtTo = norm(float64(tk.Amount))
				}
				if chipValue != 1 {
					rawToken = "r" + strconv.Itoa(amtTo)
				}
			}
			stateNext := state + rawToken

			stackB := stack0[pos] - invested[pos]
			potB := pot
			put := 0
			switch tk.Action {
			case 'r':
				put = amtTo - invested[pos]
				curMax = amtTo
			case 'c':
				put = curMax - invested[pos]
			}
			invested[pos] += put
			pot += put
			stackA := stackB - put

			if tk.Action == 'f' {
				active = remove(active, pos)
				order = order[1:]
			} else {
				order = append(order[1:], order[0])
			}

			out.Actions = append(out.Actions, ActionRow{
				HandID:      handID,
				ActionOrder: idx,
				Street:      st.Name,
				StreetIndex: stIdx,
				Position:    pos,
				PlayerID:    info[pos].Str("stub"),
				Nickname:    names[pos],
				Action:      string(tk.Action),
				AmountTo:    amtTo,
				StackBefore: stackB,
				StackAfter:  stackA,
				Invested:    put,
				PotBefore:   potB,
				PotAfter:    pot,
				PlayersLeft: len(active),
				IsAllin:     boolToInt(stackA == 0),
				StatePrefix: state,
				BoardCards:  boardSeen,
				Holecards:   holecards(info[pos]),
			})
			idx++
			state = stateNext
		}

		curMax = 0
		for _, p := range active {
			invested[p] = 0
		}
	}

	return out, nil
}

// rotatePostflop reorders the active seats so SB acts first, or BB when SB
// is gone.
func rotatePostflop(active []string) []string {
	for _, first := range []string{"SB", "BB"} {
		for i, p := range active {
			if p == first {
				out := append([]string(nil), active[i:]...)
				return append(out, active[:i]...)
			}
		}
	}
	return append([]string(nil), active...)
}

// scoreRows converts the partial_scores map into postflop_scores rows,
// re-normalizing raise amounts inside node strings when enabled.
func scoreRows(handID string, h upstream.Hand, extra map[string]interface{}, chipValue float64) []ScoreRow {
	partial := h.Map("partial_scores")
	if len(partial) == 0 {
		partial = extra
	}
	if len(partial) == 0 {
		return nil
	}

	rows := make([]ScoreRow, 0, len(partial))
	for k, v := range partial {
		node := k
		if chipValue != 1 {
			node = raiseAmountRe.ReplaceAllStringFunc(k, func(m string) string {
				n, err := strconv.Atoi(m[1:])
				if err != nil {
					return m
				}
				return "r" + strconv.Itoa(int(math.Round(float64(n)/chipValue)))
			})
		}

		row := ScoreRow{HandID: handID, NodeString: node}
		switch t := v.(type) {
		case float64:
			row.ActionScore = &t
		case map[string]interface{}:
			if s, ok := upstream.ParseAmount(t["action_score"]); ok {
				row.ActionScore = &s
			}
			if d, ok := upstream.ParseAmount(t["decision_difficulty"]); ok {
				row.DecisionDifficulty = &d
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func holecards(p upstream.Hand) string {
	v, ok := p["hole_cards"]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, c := range t {
			if s, ok := c.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case string:
		return t
	}
	return ""
}

func remove(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}

func boolFlag(h upstream.Hand, key string) int {
	return boolToInt(h.Bool(key))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
