package labeler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRules(t *testing.T) *RuleSet {
	t.Helper()
	rules, err := DefaultRules()
	require.NoError(t, err)
	return rules
}

func TestPositionTrackerPreflop(t *testing.T) {
	pt := NewPositionTracker([]string{"UTG", "HJ", "CO", "BTN", "SB", "BB"})
	assert.Equal(t, "IP", pt.IPStatus("preflop", "BTN"))
	assert.Equal(t, "OOP", pt.IPStatus("preflop", "SB"))
	assert.Equal(t, "OOP", pt.IPStatus("preflop", "CO"))
}

func TestPositionTrackerPostflop(t *testing.T) {
	pt := NewPositionTracker([]string{"UTG", "HJ", "CO", "BTN", "SB", "BB"})
	// The seat one before the button in dealing order closes the action.
	assert.Equal(t, "IP", pt.IPStatus("flop", "CO"))
	assert.Equal(t, "OOP", pt.IPStatus("flop", "BTN"))
	assert.Equal(t, "OOP", pt.IPStatus("flop", "BB"))
}

func TestPositionTrackerLJAlias(t *testing.T) {
	pt := NewPositionTracker([]string{"LJ", "BTN", "BB"})
	assert.Equal(t, "OOP", pt.IPStatus("flop", "LJ"))
	assert.Equal(t, "IP", pt.IPStatus("turn", "BB"))
}

func TestPositionTrackerUnknownPosition(t *testing.T) {
	pt := NewPositionTracker([]string{"BTN", "BB"})
	assert.Equal(t, "OOP", pt.IPStatus("flop", "MP"))
}

func TestPreflopRaiseLadder(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "3bet", tr.Process("preflop", "SB", "r900", "OOP"))
	assert.Equal(t, "4bet", tr.Process("preflop", "BTN", "r2500", "IP"))
}

func TestPassiveLabels(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "fold", tr.Process("preflop", "SB", "f", "OOP"))
	assert.Equal(t, "call", tr.Process("preflop", "BB", "c", "OOP"))
	assert.Equal(t, "check", tr.Process("flop", "BB", "x", "OOP"))
}

func TestCbetAndCheckraise(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	// BTN opens, SB 3bets, BB cold-calls, BTN calls.
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "3bet", tr.Process("preflop", "SB", "r900", "OOP"))
	assert.Equal(t, "call", tr.Process("preflop", "BB", "c", "OOP"))
	assert.Equal(t, "call", tr.Process("preflop", "BTN", "c", "IP"))

	// Flop: BB checks, BTN stabs, SB raises without having checked, BB
	// raises after checking.
	assert.Equal(t, "check", tr.Process("flop", "BB", "x", "OOP"))
	assert.Equal(t, "donk", tr.Process("flop", "SB", "r400", "OOP"))
	assert.Equal(t, "raise", tr.Process("flop", "BTN", "r1200", "IP"))
	assert.Equal(t, "checkraise", tr.Process("flop", "BB", "r3000", "OOP"))
}

func TestPreflopAggressorCbets(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "call", tr.Process("preflop", "BB", "c", "OOP"))
	assert.Equal(t, "check", tr.Process("flop", "BB", "x", "OOP"))
	assert.Equal(t, "cbet", tr.Process("flop", "BTN", "r300", "IP"))
}

func TestProbeAfterCheckedThroughStreet(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "call", tr.Process("preflop", "BB", "c", "OOP"))
	// Flop checks through.
	assert.Equal(t, "check", tr.Process("flop", "BB", "x", "OOP"))
	assert.Equal(t, "check", tr.Process("flop", "BTN", "x", "IP"))
	// BB leads the turn into the aggressor who declined to cbet.
	assert.Equal(t, "probe", tr.Process("turn", "BB", "r300", "OOP"))
}

func TestFloatCallInPosition(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "call", tr.Process("preflop", "BB", "c", "OOP"))
	// Explicit bet token, called in position with no raise this street.
	assert.Equal(t, "donk", tr.Process("flop", "BB", "b200", "OOP"))
	assert.Equal(t, "float", tr.Process("flop", "BTN", "c", "IP"))
}

func TestPostflopRaiseLadder(t *testing.T) {
	tr := NewActionTracker(mustRules(t))
	tr.Process("preflop", "BTN", "r250", "IP")
	tr.Process("preflop", "BB", "c", "OOP")
	assert.Equal(t, "donk", tr.Process("flop", "BB", "r200", "OOP"))
	assert.Equal(t, "raise", tr.Process("flop", "BTN", "r600", "IP"))
	assert.Equal(t, "3bet", tr.Process("flop", "BB", "r1800", "OOP"))
}

func TestFallbackWithoutRules(t *testing.T) {
	tr := NewActionTracker(nil)
	assert.Equal(t, "open", tr.Process("preflop", "BTN", "r250", "IP"))
	assert.Equal(t, "2bet", tr.Process("preflop", "SB", "r900", "OOP"))
	assert.Equal(t, "raise", tr.Process("flop", "SB", "r400", "OOP"))
	assert.Equal(t, "2bet", tr.Process("flop", "BTN", "r1200", "IP"))
}

func TestParseRulesPriorityOrder(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: late
    priority: 50
    when: {current_token: raise}
    result: late
  - name: early
    priority: 1
    when: {current_token: raise}
    result: early
`))
	require.NoError(t, err)
	got := rs.Apply("flop", map[string]interface{}{"current_token": "raise"})
	assert.Equal(t, "early", got)
}

func TestParseRulesTemplate(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: tmpl
    priority: 1
    when: {raise_count_gt: 1}
    result_template: "{raise_count_plus1}bet"
`))
	require.NoError(t, err)
	got := rs.Apply("flop", map[string]interface{}{
		"raise_count":       2,
		"raise_count_plus1": 3,
	})
	assert.Equal(t, "3bet", got)
	assert.Equal(t, "", rs.Apply("flop", map[string]interface{}{"raise_count": 1}))
}
