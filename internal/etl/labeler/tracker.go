package labeler

import (
	"fmt"
	"strings"
)

// order6Max is the canonical 6-max seat order; the first seat is known
// under both names depending on the upstream site.
var order6Max = [][]string{
	{"UTG", "LJ"}, {"HJ"}, {"CO"}, {"BTN"}, {"SB"}, {"BB"},
}

// PositionTracker answers IP/OOP for a hand given the positions dealt in.
type PositionTracker struct {
	order   []string
	flopBtn int
}

// NewPositionTracker builds the tracker from the positions seen preflop.
func NewPositionTracker(preflopPositions []string) *PositionTracker {
	seen := make(map[string]bool, len(preflopPositions))
	for _, p := range preflopPositions {
		seen[strings.ToUpper(p)] = true
	}

	var order []string
	for _, aliases := range order6Max {
		for _, a := range aliases {
			if seen[a] {
				order = append(order, a)
				break
			}
		}
	}

	t := &PositionTracker{order: order}
	for i, p := range order {
		if p == "BTN" {
			t.flopBtn = i
			break
		}
	}
	return t
}

// IPStatus reports whether the position acts in position on the street.
// Preflop only the button is in position. Postflop the seat one before the
// button in dealing order closes the action and is in position.
func (t *PositionTracker) IPStatus(street, pos string) string {
	pos = strings.ToUpper(pos)
	if strings.EqualFold(street, "preflop") {
		if pos == "BTN" {
			return "IP"
		}
		return "OOP"
	}
	if len(t.order) == 0 {
		return "OOP"
	}
	idx := -1
	for i, p := range t.order {
		if p == pos {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "OOP"
	}
	if idx == (t.flopBtn-1+len(t.order))%len(t.order) {
		return "IP"
	}
	return "OOP"
}

type recordedAction struct {
	pos string
	tok string
}

// ActionTracker labels one hand's actions in replay order.
type ActionTracker struct {
	rules *RuleSet

	street           string
	raiseCnt         int
	betCnt           int
	streetActions    []recordedAction
	preflopAggressor string

	prevEndedTwoChecks bool
	prevHadBet         bool
}

// NewActionTracker starts a fresh hand on preflop.
func NewActionTracker(rules *RuleSet) *ActionTracker {
	t := &ActionTracker{rules: rules}
	t.startStreet("preflop")
	return t
}

func (t *ActionTracker) startStreet(street string) {
	if t.street != "" {
		t.prevEndedTwoChecks = t.endedWithTwoChecks()
		t.prevHadBet = t.raiseCnt > 0 || t.betCnt > 0
	}
	t.street = strings.ToLower(street)
	t.raiseCnt = 0
	t.betCnt = 0
	t.streetActions = t.streetActions[:0]
}

func (t *ActionTracker) endedWithTwoChecks() bool {
	n := len(t.streetActions)
	return n >= 2 && t.streetActions[n-1].tok == "x" && t.streetActions[n-2].tok == "x"
}

// Process labels the next action. tok is the raw action token and ip the
// already-computed IP/OOP status.
func (t *ActionTracker) Process(street, pos, tok, ip string) string {
	street = strings.ToLower(street)
	if street != t.street {
		t.startStreet(street)
	}

	prevActions := t.playerActionsThisStreet(pos)
	t.streetActions = append(t.streetActions, recordedAction{pos: pos, tok: tok})

	switch {
	case tok == "x":
		return "check"
	case tok == "f":
		return "fold"
	case tok == "c":
		if ip == "IP" && t.raiseCnt == 0 && street != "preflop" {
			return "float"
		}
		return "call"
	}

	var actionType string
	switch {
	case strings.HasPrefix(tok, "r"):
		actionType = "raise"
	case strings.HasPrefix(tok, "b"):
		actionType = "bet"
	default:
		return "unknown"
	}

	priorRaises := t.raiseCnt
	firstAggression := t.raiseCnt == 0 && t.betCnt == 0
	if actionType == "raise" {
		t.raiseCnt++
	} else {
		t.betCnt++
	}
	if street == "preflop" && actionType == "raise" && t.preflopAggressor == "" {
		t.preflopAggressor = pos
	}

	ctx := map[string]interface{}{
		"current_token":                      actionType,
		"raise_count":                        priorRaises,
		"raise_count_plus1":                  priorRaises + 1,
		"raise_count_plus2":                  priorRaises + 2,
		"bet_count":                          t.betCnt,
		"first_aggression":                   firstAggression,
		"player_prev_actions":                prevActions,
		"player_position":                    ip,
		"is_preflop_aggressor":               pos == t.preflopAggressor && pos != "",
		"prev_street_ended_with_two_checks":  t.prevEndedTwoChecks,
		"prev_street_had_bet":                t.prevHadBet,
	}

	if t.rules != nil {
		if label := t.rules.Apply(street, ctx); label != "" {
			return label
		}
	}
	return t.fallbackLabel(street, actionType)
}

// fallbackLabel mirrors the built-in labels used when no rule file is
// available: preflop raises by ordinal starting at open, postflop first
// raise plain and later ones numbered.
func (t *ActionTracker) fallbackLabel(street, actionType string) string {
	if street == "preflop" && actionType == "raise" {
		switch t.raiseCnt {
		case 1:
			return "open"
		default:
			return numberedBet(t.raiseCnt)
		}
	}
	if actionType == "bet" {
		return "bet"
	}
	if actionType == "raise" {
		if t.raiseCnt == 1 {
			return "raise"
		}
		return numberedBet(t.raiseCnt)
	}
	return "unknown"
}

func numberedBet(n int) string {
	return fmt.Sprintf("%dbet", n)
}

func (t *ActionTracker) playerActionsThisStreet(pos string) []string {
	var out []string
	for _, a := range t.streetActions {
		if a.pos == pos {
			out = append(out, a.tok)
		}
	}
	return out
}
