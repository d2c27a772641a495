package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
)

func seedFacts(t *testing.T) *factstore.Memory {
	t.Helper()
	facts := factstore.NewMemory()

	facts.PutFund(*testFund())

	lps := []model.LPProfile{
		{
			ID:           "lp-a",
			Name:         "Alpine Endowment",
			Type:         model.LPEndowment,
			StrategyTags: []string{"growth-equity", "B2B-SaaS"},
			SectorTags:   []string{"software"},
			CheckSize:    model.CheckSizeRange{Min: 5_000_000, Max: 50_000_000},
			ESG:          model.ESGPreferred,
			LastUpdated:  time.Now(),
		},
		{
			ID:           "lp-b",
			Name:         "Boreal Pension",
			Type:         model.LPPension,
			StrategyTags: []string{"growth-equity"},
			SectorTags:   []string{"software", "industrials"},
			CheckSize:    model.CheckSizeRange{Min: 20_000_000, Max: 100_000_000},
			ESG:          model.ESGRequired,
			LastUpdated:  time.Now(),
		},
		{
			ID:          "lp-c",
			Name:        "Cirrus Family Office",
			Type:        model.LPFamilyOffice,
			CheckSize:   model.CheckSizeRange{Min: 1_000_000, Max: 3_000_000},
			LastUpdated: time.Now(),
		},
		{
			// No tags, no check size, no ESG: nothing computable.
			ID:   "lp-empty",
			Name: "Dormant Sovereign Fund",
			Type: model.LPSovereignWealth,
		},
	}
	for _, lp := range lps {
		facts.PutLP(lp)
	}
	return facts
}

func newTestRanker(t *testing.T) (*Ranker, *factstore.Memory) {
	t.Helper()
	facts := seedFacts(t)
	eng := NewEngine(testScoringConfig(), nil, nil)
	return NewRanker(eng, facts), facts
}

func TestRankTotalOrder(t *testing.T) {
	ranker, _ := newTestRanker(t)

	page, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "", 10)
	require.NoError(t, err)

	// lp-empty produces no computable factor and is counted, not ranked.
	assert.Equal(t, 1, page.InsufficientData)
	require.Len(t, page.Matches, 3)

	for i := 1; i < len(page.Matches); i++ {
		prev, cur := page.Matches[i-1].Score, page.Matches[i].Score
		assert.True(t, lessRanked(prev, cur) || prev.LPID == cur.LPID,
			"order violated at %d: %s(%d) before %s(%d)",
			i, prev.LPID, prev.Overall, cur.LPID, cur.Overall)
	}

	// lp-a matches on every available factor; it must lead.
	assert.Equal(t, "lp-a", page.Matches[0].LP.ID)
}

func TestRankDeterministic(t *testing.T) {
	ranker, _ := newTestRanker(t)

	first, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "", 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		next, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "", 10)
		require.NoError(t, err)
		require.Len(t, next.Matches, len(first.Matches))
		for j := range next.Matches {
			assert.Equal(t, first.Matches[j].LP.ID, next.Matches[j].LP.ID)
			assert.Equal(t, first.Matches[j].Score.Overall, next.Matches[j].Score.Overall)
		}
	}
}

func TestRankTieBreakByLPID(t *testing.T) {
	// Two LPs with identical profiles tie on every factor; the order falls
	// through to LP ID ascending.
	facts := factstore.NewMemory()
	facts.PutFund(*testFund())
	for _, id := range []string{"lp-z", "lp-a", "lp-m"} {
		lp := testLP()
		lp.ID = id
		facts.PutLP(*lp)
	}
	ranker := NewRanker(NewEngine(testScoringConfig(), nil, nil), facts)

	page, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Matches, 3)
	assert.Equal(t, "lp-a", page.Matches[0].LP.ID)
	assert.Equal(t, "lp-m", page.Matches[1].LP.ID)
	assert.Equal(t, "lp-z", page.Matches[2].LP.ID)
}

func TestRankFilters(t *testing.T) {
	ranker, _ := newTestRanker(t)

	t.Run("lp type", func(t *testing.T) {
		page, err := ranker.Rank(context.Background(), "fund-1", nil,
			RankFilter{LPTypes: []model.LPType{model.LPPension}}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Matches, 1)
		assert.Equal(t, "lp-b", page.Matches[0].LP.ID)
	})

	t.Run("min score", func(t *testing.T) {
		page, err := ranker.Rank(context.Background(), "fund-1", nil,
			RankFilter{MinScore: 60}, "", 10)
		require.NoError(t, err)
		for _, m := range page.Matches {
			assert.GreaterOrEqual(t, m.Score.Overall, 60)
		}
		// lp-c has no tag overlap and a disjoint check size; it cannot clear 60.
		for _, m := range page.Matches {
			assert.NotEqual(t, "lp-c", m.LP.ID)
		}
	})
}

// rankRecorder collects recorded scores across the rank fan-out.
type rankRecorder struct {
	mu     sync.Mutex
	scores []model.MatchScore
}

func (r *rankRecorder) AppendMatchScore(_ context.Context, s model.MatchScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, s)
	return nil
}

func TestRankTypeFilterStillScoresAllCandidates(t *testing.T) {
	facts := seedFacts(t)
	rec := &rankRecorder{}
	ranker := NewRanker(NewEngine(testScoringConfig(), nil, rec), facts)

	page, err := ranker.Rank(context.Background(), "fund-1", nil,
		RankFilter{LPTypes: []model.LPType{model.LPEndowment}}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Matches, 1)
	assert.Equal(t, "lp-a", page.Matches[0].LP.ID)

	// Filtering narrows the page, not the scoring: every computable
	// candidate still gets a recorded MatchScore.
	scored := make(map[string]bool)
	for _, s := range rec.scores {
		scored[s.LPID] = true
	}
	for _, id := range []string{"lp-a", "lp-b", "lp-c"} {
		assert.True(t, scored[id], "expected a recorded score for %s", id)
	}
}

func TestRankPagination(t *testing.T) {
	ranker, _ := newTestRanker(t)

	full, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, full.Matches, 3)

	var paged []RankedMatch
	cursor := ""
	for {
		page, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, cursor, 2)
		require.NoError(t, err)
		paged = append(paged, page.Matches...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, paged, len(full.Matches))
	for i := range paged {
		assert.Equal(t, full.Matches[i].LP.ID, paged[i].LP.ID)
	}
}

func TestRankBadCursor(t *testing.T) {
	ranker, _ := newTestRanker(t)

	_, err := ranker.Rank(context.Background(), "fund-1", nil, RankFilter{}, "not!base64", 10)
	assert.ErrorIs(t, err, ErrBadCursor)
}

func TestRankUnknownFund(t *testing.T) {
	ranker, _ := newTestRanker(t)

	_, err := ranker.Rank(context.Background(), "no-such-fund", nil, RankFilter{}, "", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, factstore.ErrNotFound)
}
