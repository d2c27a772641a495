package scoring

import (
	"math"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// Weights maps factor names to their relative weight. A valid vector sums
// to 1; Normalize repairs vectors that drift after overrides.
type Weights map[string]float64

// DefaultWeights builds the configured weight vector.
func DefaultWeights(cfg config.ScoringConfig) Weights {
	return Weights{
		model.FactorStrategy: cfg.StrategyWeight,
		model.FactorSizeFit:  cfg.SizeFitWeight,
		model.FactorSemantic: cfg.SemanticWeight,
		model.FactorESG:      cfg.ESGWeight,
	}.Normalize()
}

// Normalize rescales the vector so its weights sum to 1. A zero vector is
// returned unchanged.
func (w Weights) Normalize() Weights {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return w
	}
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v / sum
	}
	return out
}

// Subset returns the vector restricted to the given factors, renormalized to
// sum to 1. Used when a factor is unavailable: its weight is redistributed,
// never treated as a zero score.
func (w Weights) Subset(factors []string) Weights {
	out := make(Weights, len(factors))
	for _, f := range factors {
		out[f] = w[f]
	}
	return out.Normalize()
}

// Sum returns the total weight, for invariant checks.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Equal reports whether two vectors match within floating tolerance.
func (w Weights) Equal(other Weights) bool {
	if len(w) != len(other) {
		return false
	}
	for k, v := range w {
		if math.Abs(v-other[k]) > 1e-9 {
			return false
		}
	}
	return true
}
