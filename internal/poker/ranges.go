package poker

import (
	_ "embed"
	"strings"
)

// The 169 Hold'em starting hands ordered strongest first.
//
//go:embed range.txt
var rangeList string

var rangeRank map[string]int

func init() {
	rangeRank = make(map[string]int, 169)
	i := 0
	for _, line := range strings.Split(rangeList, "\n") {
		combo := strings.TrimSpace(line)
		if combo == "" {
			continue
		}
		rangeRank[combo] = i
		i++
	}
}

// RangeCount returns the number of ranked starting hands.
func RangeCount() int {
	return len(rangeRank)
}

// RangeScore returns the 0..1 strength of a starting-hand combo key, 1 for
// the strongest hand. The second return is false when the combo is unknown.
func RangeScore(combo string) (float64, bool) {
	idx, ok := rangeRank[combo]
	if !ok {
		return 0, false
	}
	return 1 - float64(idx)/float64(len(rangeRank)-1), true
}

// PreflopStrength scores two hole cards in [0,1], preferring the ranked
// list and falling back to the normalized Chen formula.
func PreflopStrength(a, b Card) float64 {
	if s, ok := RangeScore(ComboKey(a, b)); ok {
		return s
	}
	return ChenNormalized(a, b)
}
