package poker

import "fmt"

// HandRank orders all 7462 distinct five-card hand classes; 0 is a royal
// flush and 7461 the worst high card. Lower is stronger.
type HandRank uint16

// Class counts per category, strongest category first.
const (
	numStraightFlush = 10
	numFourOfAKind   = 156
	numFullHouse     = 156
	numFlush         = 1277
	numStraight      = 10
	numThreeOfAKind  = 858
	numTwoPair       = 858
	numOnePair       = 2860
	numHighCard      = 1277
	numClasses       = 7462
)

// Category base offsets within the rank space.
const (
	offStraightFlush = 0
	offFourOfAKind   = offStraightFlush + numStraightFlush
	offFullHouse     = offFourOfAKind + numFourOfAKind
	offFlush         = offFullHouse + numFullHouse
	offStraight      = offFlush + numFlush
	offThreeOfAKind  = offStraight + numStraight
	offTwoPair       = offThreeOfAKind + numThreeOfAKind
	offOnePair       = offTwoPair + numTwoPair
	offHighCard      = offOnePair + numOnePair
)

// Index tables built once at startup. Keys pack the class-defining ranks in
// 4-bit fields, strongest field first.
var (
	flushIdx   map[uint16]int // 5-rank bitmask -> index among non-straight rank sets
	quadsIdx   map[int]int    // quad<<4 | kicker
	fullIdx    map[int]int    // trips<<4 | pair
	tripsIdx   map[int]int    // trips<<8 | k1<<4 | k2 (k1 > k2)
	twoPairIdx map[int]int    // hi<<8 | lo<<4 | kicker
	onePairIdx map[int]int    // pair<<12 | k1<<8 | k2<<4 | k3 (k1 > k2 > k3)

	straightMasks map[uint16]int // bitmask -> high rank index
)

func init() {
	straightMasks = make(map[uint16]int, 10)
	for high := 12; high >= 4; high-- {
		var m uint16
		for r := high - 4; r <= high; r++ {
			m |= 1 << r
		}
		straightMasks[m] = high
	}
	// Wheel: A-5-4-3-2, ranked as a five-high straight.
	straightMasks[1<<12|1<<3|1<<2|1<<1|1<<0] = 3

	flushIdx = buildDistinctRankIndex()
	quadsIdx = buildPairedIndex()
	fullIdx = buildPairedIndex()
	tripsIdx = buildTripsIndex()
	twoPairIdx = buildTwoPairIndex()
	onePairIdx = buildOnePairIndex()
}

// buildDistinctRankIndex orders the 1277 straight-free five-rank sets from
// strongest to weakest by their descending rank tuple.
func buildDistinctRankIndex() map[uint16]int {
	idx := make(map[uint16]int, numFlush)
	n := 0
	for a := 12; a >= 4; a-- {
		for b := a - 1; b >= 3; b-- {
			for c := b - 1; c >= 2; c-- {
				for d := c - 1; d >= 1; d-- {
					for e := d - 1; e >= 0; e-- {
						m := uint16(1<<a | 1<<b | 1<<c | 1<<d | 1<<e)
						if _, isStraight := straightMasks[m]; isStraight {
							continue
						}
						idx[m] = n
						n++
					}
				}
			}
		}
	}
	return idx
}

// buildPairedIndex orders (major, minor) rank pairs, major desc then minor
// desc. Serves both quads+kicker and trips+pair.
func buildPairedIndex() map[int]int {
	idx := make(map[int]int, 156)
	n := 0
	for major := 12; major >= 0; major-- {
		for minor := 12; minor >= 0; minor-- {
			if minor == major {
				continue
			}
			idx[major<<4|minor] = n
			n++
		}
	}
	return idx
}

func buildTripsIndex() map[int]int {
	idx := make(map[int]int, numThreeOfAKind)
	n := 0
	for trips := 12; trips >= 0; trips-- {
		for k1 := 12; k1 >= 1; k1-- {
			if k1 == trips {
				continue
			}
			for k2 := k1 - 1; k2 >= 0; k2-- {
				if k2 == trips {
					continue
				}
				idx[trips<<8|k1<<4|k2] = n
				n++
			}
		}
	}
	return idx
}

func buildTwoPairIndex() map[int]int {
	idx := make(map[int]int, numTwoPair)
	n := 0
	for hi := 12; hi >= 1; hi-- {
		for lo := hi - 1; lo >= 0; lo-- {
			for k := 12; k >= 0; k-- {
				if k == hi || k == lo {
					continue
				}
				idx[hi<<8|lo<<4|k] = n
				n++
			}
		}
	}
	return idx
}

func buildOnePairIndex() map[int]int {
	idx := make(map[int]int, numOnePair)
	n := 0
	for pair := 12; pair >= 0; pair-- {
		for k1 := 12; k1 >= 2; k1-- {
			if k1 == pair {
				continue
			}
			for k2 := k1 - 1; k2 >= 1; k2-- {
				if k2 == pair {
					continue
				}
				for k3 := k2 - 1; k3 >= 0; k3-- {
					if k3 == pair {
						continue
					}
					idx[pair<<12|k1<<8|k2<<4|k3] = n
					n++
				}
			}
		}
	}
	return idx
}

// Evaluate5 ranks exactly five cards.
func Evaluate5(cards []Card) HandRank {
	var counts [13]int
	var mask uint16
	flush := true
	suit := cards[0].Suit()
	for _, c := range cards {
		counts[c.Rank()]++
		mask |= 1 << c.Rank()
		if c.Suit() != suit {
			flush = false
		}
	}

	straightHigh, isStraight := straightMasks[mask]

	// Five distinct ranks: straight flush, flush, straight, or high card.
	if countBits(mask) == 5 {
		switch {
		case flush && isStraight:
			return HandRank(offStraightFlush + (12 - straightHigh))
		case flush:
			return HandRank(offFlush + flushIdx[mask])
		case isStraight:
			return HandRank(offStraight + (12 - straightHigh))
		default:
			return HandRank(offHighCard + flushIdx[mask])
		}
	}

	// Paired categories. Collect ranks by multiplicity, high first.
	quads, trips := -1, -1
	pairs := make([]int, 0, 2)
	kickers := make([]int, 0, 3)
	for r := 12; r >= 0; r-- {
		switch counts[r] {
		case 4:
			quads = r
		case 3:
			trips = r
		case 2:
			pairs = append(pairs, r)
		case 1:
			kickers = append(kickers, r)
		}
	}

	switch {
	case quads >= 0:
		return HandRank(offFourOfAKind + quadsIdx[quads<<4|kickers[0]])
	case trips >= 0 && len(pairs) == 1:
		return HandRank(offFullHouse + fullIdx[trips<<4|pairs[0]])
	case trips >= 0:
		return HandRank(offThreeOfAKind + tripsIdx[trips<<8|kickers[0]<<4|kickers[1]])
	case len(pairs) == 2:
		return HandRank(offTwoPair + twoPairIdx[pairs[0]<<8|pairs[1]<<4|kickers[0]])
	default:
		return HandRank(offOnePair + onePairIdx[pairs[0]<<12|kickers[0]<<8|kickers[1]<<4|kickers[2]])
	}
}

// Evaluate ranks five, six, or seven cards, taking the best five-card hand.
func Evaluate(cards []Card) (HandRank, error) {
	switch len(cards) {
	case 5:
		return Evaluate5(cards), nil
	case 6:
		best := HandRank(numClasses)
		sub := make([]Card, 0, 5)
		for drop := 0; drop < 6; drop++ {
			sub = sub[:0]
			for k, c := range cards {
				if k != drop {
					sub = append(sub, c)
				}
			}
			if r := Evaluate5(sub); r < best {
				best = r
			}
		}
		return best, nil
	case 7:
		best := HandRank(numClasses)
		sub := make([]Card, 0, 5)
		for i := 0; i < 7; i++ {
			for j := i + 1; j < 7; j++ {
				sub = sub[:0]
				for k, c := range cards {
					if k != i && k != j {
						sub = append(sub, c)
					}
				}
				if r := Evaluate5(sub); r < best {
					best = r
				}
			}
		}
		return best, nil
	default:
		return 0, fmt.Errorf("evaluate needs 5 to 7 cards, got %d", len(cards))
	}
}

// Percentile maps a rank to [0,1] where 0 is the strongest possible class.
func (r HandRank) Percentile() float64 {
	return float64(r) / float64(numClasses-1)
}

// Category names the hand class for display.
func (r HandRank) Category() string {
	switch {
	case int(r) < offFourOfAKind:
		return "straight flush"
	case int(r) < offFullHouse:
		return "four of a kind"
	case int(r) < offFlush:
		return "full house"
	case int(r) < offStraight:
		return "flush"
	case int(r) < offThreeOfAKind:
		return "straight"
	case int(r) < offTwoPair:
		return "three of a kind"
	case int(r) < offOnePair:
		return "two pair"
	case int(r) < offHighCard:
		return "one pair"
	default:
		return "high card"
	}
}

func countBits(m uint16) int {
	n := 0
	for ; m != 0; m &= m - 1 {
		n++
	}
	return n
}
