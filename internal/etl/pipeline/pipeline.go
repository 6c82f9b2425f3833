// Package pipeline assembles the production stage order. It exists apart
// from package etl so the runner does not import its own stages.
package pipeline

import (
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/etl/handbuilder"
	"github.com/velstad/handmill/internal/etl/intention"
	"github.com/velstad/handmill/internal/etl/labeler"
	"github.com/velstad/handmill/internal/etl/materialize"
	"github.com/velstad/handmill/internal/etl/preflop"
	"github.com/velstad/handmill/internal/etl/scorejoin"
	"github.com/velstad/handmill/internal/etl/sizing"
	"github.com/velstad/handmill/internal/etl/strength"
)

// Stages returns the full transformation chain in execution order.
// normalize is threaded to the score join, which rescales fractional score
// columns to 0-100 when set.
func Stages(normalize bool) []etl.Stage {
	return []etl.Stage{
		handbuilder.New(),
		preflop.New(),
		sizing.New(),
		labeler.New(),
		strength.New(),
		intention.New(),
		scorejoin.New(normalize),
		materialize.New(),
	}
}
