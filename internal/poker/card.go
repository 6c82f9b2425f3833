// Package poker provides card parsing, five-to-seven card hand evaluation,
// and preflop hand-strength heuristics for Texas Hold'em.
package poker

import (
	"fmt"
	"strings"
)

// Card packs a rank (0 = deuce .. 12 = ace) and a suit (0..3).
type Card uint8

const ranks = "23456789TJQKA"
const suits = "cdhs"

// NewCard builds a card from rank and suit indexes.
func NewCard(rank, suit int) Card {
	return Card(rank<<2 | suit)
}

// Rank returns 0 for a deuce through 12 for an ace.
func (c Card) Rank() int { return int(c) >> 2 }

// Suit returns the suit index 0..3.
func (c Card) Suit() int { return int(c) & 3 }

func (c Card) String() string {
	return string(ranks[c.Rank()]) + string(suits[c.Suit()])
}

// ParseCard reads a two-character card like "Ah" or "tD".
func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	rank := strings.IndexByte(ranks, s[0])
	if rank < 0 {
		rank = strings.IndexByte(ranks, byte(strings.ToUpper(s[:1])[0]))
	}
	suit := strings.IndexByte(suits, s[1])
	if suit < 0 {
		suit = strings.IndexByte(suits, byte(strings.ToLower(s[1:])[0]))
	}
	if rank < 0 || suit < 0 {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	return NewCard(rank, suit), nil
}

// ParseCards reads a run of concatenated two-character cards ("AhKsQd").
func ParseCards(s string) ([]Card, error) {
	s = strings.TrimSpace(s)
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("invalid card run %q", s)
	}
	out := make([]Card, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		c, err := ParseCard(s[i : i+2])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ComboKey canonicalizes two hole cards to the 169-hand key: pair ("TT"),
// suited ("AKs"), or offsuit ("AKo"), higher rank first.
func ComboKey(a, b Card) string {
	hi, lo := a, b
	if lo.Rank() > hi.Rank() {
		hi, lo = lo, hi
	}
	if hi.Rank() == lo.Rank() {
		return string(ranks[hi.Rank()]) + string(ranks[lo.Rank()])
	}
	suffix := "o"
	if hi.Suit() == lo.Suit() {
		suffix = "s"
	}
	return string(ranks[hi.Rank()]) + string(ranks[lo.Rank()]) + suffix
}

// CanonicalHolecards orders a two-card string higher rank first with
// lowercase suits, e.g. "kSaH" becomes "AhKs".
func CanonicalHolecards(s string) (string, error) {
	cards, err := ParseCards(s)
	if err != nil {
		return "", err
	}
	if len(cards) != 2 {
		return "", fmt.Errorf("expected two hole cards in %q", s)
	}
	a, b := cards[0], cards[1]
	if b.Rank() > a.Rank() || (b.Rank() == a.Rank() && b.Suit() > a.Suit()) {
		a, b = b, a
	}
	return a.String() + b.String(), nil
}
