package scoring

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// ErrBadCursor reports a pagination cursor that cannot be decoded.
var ErrBadCursor = eris.New("scoring: bad cursor")

// RankFilter restricts a rank result after scoring. A zero value filters
// nothing.
type RankFilter struct {
	MinScore int            `json:"min_score,omitempty"`
	LPTypes  []model.LPType `json:"lp_types,omitempty"`
}

func (f RankFilter) allowsType(t model.LPType) bool {
	if len(f.LPTypes) == 0 {
		return true
	}
	for _, want := range f.LPTypes {
		if t == want {
			return true
		}
	}
	return false
}

// RankedMatch pairs a match score with its LP for presentation.
type RankedMatch struct {
	Score model.MatchScore `json:"score"`
	LP    model.LPProfile  `json:"lp"`
}

// RankPage is one page of ranked matches. InsufficientData counts candidates
// that produced no computable factor and were excluded from the ordering.
type RankPage struct {
	Matches          []RankedMatch `json:"matches"`
	NextCursor       string        `json:"next_cursor,omitempty"`
	InsufficientData int           `json:"insufficient_data"`
}

// rankCursor is the resume key for the next page: the total-order sort key
// of the last returned match.
type rankCursor struct {
	Overall  int     `json:"o"`
	Semantic float64 `json:"s"`
	LPID     string  `json:"l"`
}

// Ranker scores a fund against the LP universe and returns a totally
// ordered, paginated result.
type Ranker struct {
	engine *Engine
	facts  factstore.FactStore
}

// NewRanker creates a ranker over the given engine and fact store.
func NewRanker(engine *Engine, facts factstore.FactStore) *Ranker {
	return &Ranker{engine: engine, facts: facts}
}

// Rank scores every listed LP against the fund, applies the filter, and
// returns one page ordered by overall score descending, semantic factor
// descending, then LP ID ascending. Candidates with no computable factor are
// excluded and counted rather than ranked at zero. For identical inputs and
// weights the result order is deterministic.
func (r *Ranker) Rank(ctx context.Context, fundID string, weights Weights, filter RankFilter, cursor string, pageSize int) (*RankPage, error) {
	fund, err := r.facts.Fund(ctx, fundID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load fund")
	}

	lps, err := r.facts.ListLPs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: list lps")
	}

	var after *rankCursor
	if cursor != "" {
		after, err = decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	if pageSize <= 0 {
		pageSize = r.engine.cfg.PageSize
	}

	var (
		mu      sync.Mutex
		ranked  []RankedMatch
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := r.engine.cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	// Every candidate is scored, filters apply afterwards. A filtered-out
	// candidate still gets its MatchScore recorded.
	for _, lp := range lps {
		g.Go(func() error {
			score, err := r.engine.Score(gctx, fund, &lp, weights)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if score.InsufficientData {
				skipped++
				return nil
			}
			ranked = append(ranked, RankedMatch{Score: score, LP: lp})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "scoring: rank fan-out")
	}

	if filter.MinScore > 0 || len(filter.LPTypes) > 0 {
		filtered := ranked[:0]
		for _, m := range ranked {
			if !filter.allowsType(m.LP.Type) {
				continue
			}
			if filter.MinScore > 0 && m.Score.Overall < filter.MinScore {
				continue
			}
			filtered = append(filtered, m)
		}
		ranked = filtered
	}

	sort.Slice(ranked, func(i, j int) bool {
		return lessRanked(ranked[i].Score, ranked[j].Score)
	})

	if after != nil {
		ranked = sliceAfter(ranked, *after)
	}

	page := &RankPage{InsufficientData: skipped}
	if len(ranked) > pageSize {
		page.Matches = ranked[:pageSize]
		last := page.Matches[len(page.Matches)-1].Score
		page.NextCursor = encodeCursor(rankCursor{
			Overall:  last.Overall,
			Semantic: last.SemanticScore(),
			LPID:     last.LPID,
		})
	} else {
		page.Matches = ranked
	}

	zap.L().Debug("scoring: rank complete",
		zap.String("fund_id", fundID),
		zap.Int("candidates", len(lps)),
		zap.Int("returned", len(page.Matches)),
		zap.Int("insufficient_data", skipped),
	)

	return page, nil
}

// lessRanked is the total rank order: overall descending, semantic factor
// descending with an unavailable factor sorting last, LP ID ascending.
func lessRanked(a, b model.MatchScore) bool {
	if a.Overall != b.Overall {
		return a.Overall > b.Overall
	}
	as, bs := a.SemanticScore(), b.SemanticScore()
	if as != bs {
		return as > bs
	}
	return a.LPID < b.LPID
}

// sliceAfter returns the suffix of ranked strictly after the cursor key in
// the total order. The scan keys on the order itself, not on slice indexes,
// so a candidate set that changed between pages still resumes correctly.
func sliceAfter(ranked []RankedMatch, after rankCursor) []RankedMatch {
	key := model.MatchScore{
		Overall: after.Overall,
		LPID:    after.LPID,
		Factors: []model.FactorScore{{
			Name:      model.FactorSemantic,
			Score:     after.Semantic,
			Available: after.Semantic >= 0,
		}},
	}
	i := sort.Search(len(ranked), func(i int) bool {
		return lessRanked(key, ranked[i].Score)
	})
	return ranked[i:]
}

func encodeCursor(c rankCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (*rankCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrBadCursor
	}
	var c rankCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrBadCursor
	}
	return &c, nil
}
