package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstad/handmill/internal/etl/scorejoin"
)

func TestStagesOrder(t *testing.T) {
	stages := Stages(false)
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{
		"build", "preflop", "sizing", "labels", "strength", "intention", "scores", "materialize",
	}, names)
}

func TestNormalizeReachesOnlyScoreJoin(t *testing.T) {
	for _, normalize := range []bool{false, true} {
		var found *scorejoin.Stage
		for _, s := range Stages(normalize) {
			if sj, ok := s.(*scorejoin.Stage); ok {
				require.Nil(t, found)
				found = sj
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, normalize, found.Normalize)
	}
}
