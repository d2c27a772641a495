package scoring

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/resilience"
	"github.com/meridian-group/lpmatch-cli/pkg/jina"
)

// embedTimeout bounds a single embeddings call on the scoring path.
const embedTimeout = 30 * time.Second

// Recorder receives computed match scores. Scores are append-only: a
// recomputation produces a new record, it never mutates an old one.
type Recorder interface {
	AppendMatchScore(ctx context.Context, score model.MatchScore) error
}

// Engine computes multi-factor match scores for (fund, LP) pairs.
type Engine struct {
	cfg      config.ScoringConfig
	embedder jina.Client // nil disables the semantic factor
	recorder Recorder    // nil disables persistence
	breaker  *resilience.CircuitBreaker
	now      func() time.Time

	embedMu    sync.Mutex
	embedCache map[string][]float64
}

// NewEngine creates a scoring engine. embedder and recorder may be nil. A
// circuit breaker guards the embedding provider so a dead endpoint degrades
// to unavailable semantic factors instead of stalling every rank call.
func NewEngine(cfg config.ScoringConfig, embedder jina.Client, recorder Recorder) *Engine {
	return &Engine{
		cfg:        cfg,
		embedder:   embedder,
		recorder:   recorder,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		now:        time.Now,
		embedCache: make(map[string][]float64),
	}
}

// Score computes a match score for the pair under the given weight vector.
// Factors that cannot be computed are excluded and the remaining weights are
// renormalized to sum to 1. When no factor is computable the score is marked
// insufficient_data, a valid tri-state result rather than an error.
func (e *Engine) Score(ctx context.Context, fund *model.FundProfile, lp *model.LPProfile, weights Weights) (model.MatchScore, error) {
	if fund == nil || lp == nil {
		return model.MatchScore{}, eris.New("scoring: fund and lp profiles are required")
	}
	if weights == nil {
		weights = DefaultWeights(e.cfg)
	}

	factors := []model.FactorScore{
		e.scoreStrategy(fund, lp),
		e.scoreSizeFit(fund, lp),
		e.scoreSemantic(ctx, fund, lp),
		e.scoreESG(fund, lp),
	}

	var available []string
	for _, f := range factors {
		if f.Available {
			available = append(available, f.Name)
		}
	}

	score := model.MatchScore{
		ID:          uuid.NewString(),
		FundID:      fund.ID,
		FundVersion: fund.Version,
		LPID:        lp.ID,
		ComputedAt:  e.now(),
		Stale:       e.isStale(fund, lp),
	}

	if len(available) == 0 {
		score.InsufficientData = true
		score.Factors = factors
		e.record(ctx, score)
		return score, nil
	}

	applied := weights.Subset(available)
	var total float64
	for i := range factors {
		if !factors[i].Available {
			factors[i].Weight = 0
			continue
		}
		factors[i].Weight = applied[factors[i].Name]
		total += factors[i].Score * factors[i].Weight
	}
	score.Factors = factors
	score.Overall = clampScore(math.Round(total))

	e.record(ctx, score)
	return score, nil
}

func (e *Engine) record(ctx context.Context, score model.MatchScore) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.AppendMatchScore(ctx, score); err != nil {
		zap.L().Warn("scoring: failed to persist match score",
			zap.String("fund_id", score.FundID),
			zap.String("lp_id", score.LPID),
			zap.Error(err),
		)
	}
}

func (e *Engine) isStale(fund *model.FundProfile, lp *model.LPProfile) bool {
	window := e.cfg.FreshnessWindow()
	if window <= 0 {
		return false
	}
	cutoff := e.now().Add(-window)
	fundStale := !fund.UpdatedAt.IsZero() && fund.UpdatedAt.Before(cutoff)
	lpStale := !lp.LastUpdated.IsZero() && lp.LastUpdated.Before(cutoff)
	return fundStale || lpStale
}

// scoreStrategy returns the tag-overlap factor: the Jaccard ratio of the two
// case-folded tag sets, scaled to 0-100. Unavailable when either side has no
// tags at all.
func (e *Engine) scoreStrategy(fund *model.FundProfile, lp *model.LPProfile) model.FactorScore {
	f := model.FactorScore{Name: model.FactorStrategy}

	fundTags := foldTagSet(fund.Tags())
	lpTags := foldTagSet(lp.Tags())
	if len(fundTags) == 0 || len(lpTags) == 0 {
		return f
	}

	var intersection int
	for t := range fundTags {
		if _, ok := lpTags[t]; ok {
			intersection++
		}
	}
	union := len(fundTags) + len(lpTags) - intersection

	f.Available = true
	f.Score = 100 * float64(intersection) / float64(union)
	return f
}

// scoreSizeFit returns the check-size overlap factor. Full containment of
// the fund's target range inside the LP's range scores 100; a partial
// overlap scores proportionally; disjoint ranges degrade linearly to 0 over
// the configured tolerance band. Never negative.
func (e *Engine) scoreSizeFit(fund *model.FundProfile, lp *model.LPProfile) model.FactorScore {
	f := model.FactorScore{Name: model.FactorSizeFit}

	if fund.CheckSize.IsZero() || lp.CheckSize.IsZero() {
		return f
	}
	f.Available = true

	fMin, fMax := fund.CheckSize.Min, fund.CheckSize.Max
	lMin, lMax := lp.CheckSize.Min, lp.CheckSize.Max
	if fMax < fMin {
		fMin, fMax = fMax, fMin
	}
	if lMax < lMin {
		lMin, lMax = lMax, lMin
	}

	overlap := math.Min(float64(fMax), float64(lMax)) - math.Max(float64(fMin), float64(lMin))
	fundSpan := float64(fMax - fMin)

	if overlap >= 0 {
		if fundSpan == 0 || overlap >= fundSpan {
			f.Score = 100
			return f
		}
		f.Score = 100 * overlap / fundSpan
		return f
	}

	// Disjoint: linear decay over the tolerance band beyond the LP range.
	gap := -overlap
	band := e.cfg.SizeTolerancePct * float64(lMax-lMin)
	if band <= 0 {
		return f
	}
	f.Score = math.Max(0, 100*(1-gap/band))
	return f
}

// scoreSemantic returns the thesis/mandate similarity factor. When the
// embedding provider is absent, reports unavailability, or either text is
// empty, the factor is excluded; a zero here would unfairly penalize the
// pair.
func (e *Engine) scoreSemantic(ctx context.Context, fund *model.FundProfile, lp *model.LPProfile) model.FactorScore {
	f := model.FactorScore{Name: model.FactorSemantic}

	if e.embedder == nil || fund.Thesis == "" || lp.Mandate == "" {
		return f
	}

	thesisVec, err := e.embed(ctx, fund.Thesis)
	if err != nil {
		zap.L().Warn("scoring: semantic factor unavailable", zap.Error(err))
		return f
	}
	mandateVec, err := e.embed(ctx, lp.Mandate)
	if err != nil {
		zap.L().Warn("scoring: semantic factor unavailable", zap.Error(err))
		return f
	}

	cos, err := cosine(thesisVec, mandateVec)
	if err != nil {
		zap.L().Warn("scoring: semantic factor unavailable", zap.Error(err))
		return f
	}

	f.Available = true
	// Rescale cosine from [-1,1] to 0-100.
	f.Score = clampFloat((cos+1)/2*100, 0, 100)
	return f
}

// scoreESG returns the categorical ESG alignment factor with 0/50/100 tiers.
// Unavailable when either side has no declared posture.
func (e *Engine) scoreESG(fund *model.FundProfile, lp *model.LPProfile) model.FactorScore {
	f := model.FactorScore{Name: model.FactorESG}

	if fund.ESG == model.ESGUnstated || lp.ESG == model.ESGUnstated {
		return f
	}
	f.Available = true

	switch {
	case fund.ESG == lp.ESG:
		f.Score = 100
	case fund.ESG == model.ESGIndifferent && lp.ESG == model.ESGRequired,
		fund.ESG == model.ESGRequired && lp.ESG == model.ESGIndifferent:
		f.Score = 0
	default:
		f.Score = 50
	}
	return f
}

// embed returns the embedding for the given text, consulting the in-process
// cache first so repeated fund-thesis lookups during one rank call hit the
// provider only once.
func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	e.embedMu.Lock()
	if vec, ok := e.embedCache[text]; ok {
		e.embedMu.Unlock()
		return vec, nil
	}
	e.embedMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var vecs [][]float64
	err := e.breaker.Execute(callCtx, func(ctx context.Context) error {
		var embedErr error
		vecs, embedErr = e.embedder.Embed(ctx, []string{text})
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, eris.New("scoring: empty embedding")
	}

	e.embedMu.Lock()
	e.embedCache[text] = vecs[0]
	e.embedMu.Unlock()
	return vecs[0], nil
}

// cosine computes the cosine similarity between two equal-length vectors.
func cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, eris.New("scoring: vector length mismatch")
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, eris.New("scoring: zero-magnitude vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

var tagFolder = cases.Fold()

// foldTagSet case-folds and dedupes a tag list.
func foldTagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		out[tagFolder.String(t)] = struct{}{}
	}
	return out
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
