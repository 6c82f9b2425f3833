// Package handbuilder implements the first pipeline stage: replaying each
// raw hand's situation string into positioned per-action rows plus the
// streets, players, and hand_info tables.
package handbuilder

import (
	"fmt"
	"strings"
)

// Token is one action in a situation string: a bare x/f/c or a raise with
// its amount-to digits.
type Token struct {
	Action byte   // 'x', 'f', 'c', 'r'
	Amount int    // raise target, valid when Action == 'r'
	Raw    string // the literal token text, e.g. "r350"
}

// StreetTokens groups the tokens of one street with its board cards.
type StreetTokens struct {
	Name   string // preflop, flop, turn, river
	Board  string // cards between brackets, empty preflop
	Tokens []Token
}

// Tokenize splits a bracket-free action run into tokens. Any character
// outside x/f/c/r-digits is rejected.
func Tokenize(s string) ([]Token, error) {
	var out []Token
	for i := 0; i < len(s); {
		switch c := s[i]; c {
		case 'x', 'f', 'c':
			out = append(out, Token{Action: c, Raw: string(c)})
			i++
		case 'r':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			raw := s[i:j]
			amt := 0
			for _, d := range raw[1:] {
				amt = amt*10 + int(d-'0')
			}
			out = append(out, Token{Action: 'r', Amount: amt, Raw: raw})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in situation string", c)
		}
	}
	return out, nil
}

var nextStreet = map[string]string{
	"preflop": "flop",
	"flop":    "turn",
	"turn":    "river",
	"river":   "river",
}

// SplitStreets cuts a situation string at its [board] segments and names
// the streets in order. Streets with neither tokens nor a board are
// dropped.
func SplitStreets(s string) ([]StreetTokens, error) {
	var out []StreetTokens
	name := "preflop"
	cur := strings.Builder{}
	board := ""

	flush := func() error {
		toks, err := Tokenize(cur.String())
		if err != nil {
			return err
		}
		if len(toks) > 0 || board != "" {
			out = append(out, StreetTokens{Name: name, Board: board, Tokens: toks})
		}
		cur.Reset()
		return nil
	}

	for i := 0; i < len(s); {
		if s[i] != '[' {
			cur.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i:], ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated board segment in situation string")
		}
		if err := flush(); err != nil {
			return nil, err
		}
		board = s[i+1 : i+end]
		name = nextStreet[name]
		i += end + 1
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
