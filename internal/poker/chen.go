package poker

// Chen formula base points per rank, ace first (rank index 12 down to 0).
var chenBase = [13]float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5, 6, 7, 8, 10}

// Gap penalty indexed by rank distance between the two cards.
var chenGap = [6]float64{0, 0, 1, 2, 4, 5}

// ChenScore computes the Chen formula value for two hole cards. The scale
// runs from -1.5 (32o) to 20 (AA).
func ChenScore(a, b Card) float64 {
	hi, lo := a, b
	if lo.Rank() > hi.Rank() {
		hi, lo = lo, hi
	}

	score := chenBase[hi.Rank()]

	if hi.Rank() == lo.Rank() {
		score *= 2
		if score < 5 {
			score = 5
		}
		return score
	}

	if hi.Suit() == lo.Suit() {
		score += 2
	}

	diff := hi.Rank() - lo.Rank()
	if diff >= len(chenGap) {
		score -= chenGap[len(chenGap)-1]
	} else {
		score -= chenGap[diff]
	}

	// Straight-potential bonus for close connectors below queen.
	if diff <= 2 && hi.Rank() < 10 {
		score++
	}

	return score
}

// ChenNormalized maps the Chen score to [0,1].
func ChenNormalized(a, b Card) float64 {
	s := ChenScore(a, b) / 20
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
