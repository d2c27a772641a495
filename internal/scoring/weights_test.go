package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

func TestDefaultWeightsNormalized(t *testing.T) {
	w := DefaultWeights(testScoringConfig())
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.InDelta(t, 0.35, w[model.FactorStrategy], 1e-9)
}

func TestWeightsNormalize(t *testing.T) {
	w := Weights{"a": 2, "b": 2}.Normalize()
	assert.InDelta(t, 0.5, w["a"], 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)

	// Degenerate all-zero vectors stay zero rather than dividing by zero.
	zero := Weights{"a": 0}.Normalize()
	assert.Zero(t, zero.Sum())
}

func TestWeightsSubsetRenormalizes(t *testing.T) {
	w := DefaultWeights(testScoringConfig())
	sub := w.Subset([]string{model.FactorStrategy, model.FactorSizeFit, model.FactorESG})

	assert.InDelta(t, 1.0, sub.Sum(), 1e-9)
	assert.NotContains(t, sub, model.FactorSemantic)
	// Relative proportions are preserved.
	assert.InDelta(t, 0.35/0.25, sub[model.FactorStrategy]/sub[model.FactorSizeFit], 1e-9)
}

func TestWeightsEqual(t *testing.T) {
	a := Weights{"x": 0.5, "y": 0.5}
	b := Weights{"x": 0.5, "y": 0.5 + 1e-12}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Weights{"x": 1}))
}
