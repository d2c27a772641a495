package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/pitch"
	"github.com/meridian-group/lpmatch-cli/internal/preference"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
	"github.com/meridian-group/lpmatch-cli/internal/store"
	"github.com/meridian-group/lpmatch-cli/pkg/anthropic"
)

const (
	srvGenModel  = "gen-model"
	srvCritModel = "crit-model"
)

// fixedEmbedder returns the same unit vector for every text, so the semantic
// factor is always 100 and ranking is driven by the other factors.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

// queuedLLM serves canned replies routed by model.
type queuedLLM struct {
	genQueue  []string
	critQueue []string
}

func (q *queuedLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	var queue *[]string
	switch req.Model {
	case srvGenModel:
		queue = &q.genQueue
	default:
		queue = &q.critQueue
	}
	if len(*queue) == 0 {
		return nil, fmt.Errorf("queuedLLM: no reply queued for %s", req.Model)
	}
	text := (*queue)[0]
	*queue = (*queue)[1:]
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 200},
	}, nil
}

func testServerConfig() config.Config {
	return config.Config{
		Anthropic: config.AnthropicConfig{
			GeneratorModel: srvGenModel,
			CriticModel:    srvCritModel,
			TimeoutSecs:    5,
		},
		Scoring: config.ScoringConfig{
			StrategyWeight:   0.35,
			SizeFitWeight:    0.25,
			SemanticWeight:   0.25,
			ESGWeight:        0.15,
			SizeTolerancePct: 0.5,
			MaxConcurrency:   4,
			FreshnessDays:    90,
			PageSize:         25,
		},
		Pitch: config.PitchConfig{
			MaxAttempts:     3,
			MinSpecificRefs: 3,
			WallClockSecs:   30,
		},
		Preference: config.PreferenceConfig{
			MinSamples:     5,
			DecayDays:      60,
			DecayFactor:    0.8,
			ReversalWindow: 5,
		},
		Quota: config.QuotaConfig{
			TokensPerDay:      1_000_000,
			RequestsPerSecond: 100,
			Burst:             10,
		},
		Server: config.ServerConfig{Port: 0},
	}
}

func serverFund() model.FundProfile {
	return model.FundProfile{
		ID:           "fund-1",
		OrgID:        "org-1",
		Name:         "Meridian Growth II",
		Version:      2,
		StrategyTags: []string{"growth-equity"},
		SectorTags:   []string{"software"},
		CheckSize:    model.CheckSizeRange{Min: 10_000_000, Max: 25_000_000},
		TrackRecord: []model.TrackRecordEntry{
			{Deal: "Acme Exit", Sector: "software", MOIC: 3.1},
		},
		ESG:       model.ESGPreferred,
		Thesis:    "vertical SaaS in underserved mid-market niches",
		UpdatedAt: time.Now(),
	}
}

func serverLPs() []model.LPProfile {
	return []model.LPProfile{
		{
			ID:           "lp-1",
			Name:         "Cascadia State Pension",
			Type:         model.LPPension,
			Mandate:      "growth exposure to enterprise software",
			StrategyTags: []string{"growth-equity"},
			SectorTags:   []string{"software"},
			CheckSize:    model.CheckSizeRange{Min: 5_000_000, Max: 50_000_000},
			ESG:          model.ESGPreferred,
			Contact:      &model.Contact{Name: "Dana Whitfield", Email: "dw@cascadia.example", Title: "CIO"},
			LastUpdated:  time.Now(),
		},
		{
			ID:           "lp-2",
			Name:         "Harbor Family Office",
			Type:         model.LPFamilyOffice,
			Mandate:      "opportunistic private equity",
			StrategyTags: []string{"buyout"},
			SectorTags:   []string{"industrials"},
			CheckSize:    model.CheckSizeRange{Min: 1_000_000, Max: 5_000_000},
			ESG:          model.ESGIndifferent,
			LastUpdated:  time.Now(),
		},
	}
}

// newTestServer assembles the full pipeline over in-memory facts and a
// temp-file SQLite store.
func newTestServer(t *testing.T, llm anthropic.Client) (*Server, store.Store) {
	t.Helper()

	cfg := testServerConfig()

	facts := factstore.NewMemory()
	facts.PutFund(serverFund())
	for _, lp := range serverLPs() {
		facts.PutLP(lp)
	}

	records, err := store.NewSQLite(filepath.Join(t.TempDir(), "server_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })
	require.NoError(t, records.Migrate(context.Background()))

	engine := scoring.NewEngine(cfg.Scoring, fixedEmbedder{}, records)
	ranker := scoring.NewRanker(engine, facts)

	quotas := quota.NewRegistry(cfg.Quota)
	gen := pitch.NewGenerator(llm, quotas, cfg.Anthropic)
	critic := pitch.NewCritic(llm, facts, quotas, cfg.Anthropic, cfg.Pitch)
	synth := pitch.NewSynthesizer(gen, critic, cfg.Pitch, records)

	learner := preference.NewLearner(cfg.Preference, records)

	return New(cfg, facts, ranker, synth, learner, records), records
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMatchesRanksAndOrders(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/funds/fund-1/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page scoring.RankPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Matches, 2)
	assert.Equal(t, "lp-1", page.Matches[0].Score.LPID, "closer strategy and size fit ranks first")
	assert.GreaterOrEqual(t, page.Matches[0].Score.Overall, page.Matches[1].Score.Overall)
}

func TestMatchesFilters(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	r := s.Router()

	rec := doJSON(t, r, http.MethodGet, "/funds/fund-1/matches?lp_type=pension", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page scoring.RankPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Matches, 1)
	assert.Equal(t, model.LPPension, page.Matches[0].LP.Type)

	rec = doJSON(t, r, http.MethodGet, "/funds/fund-1/matches?min_score=101", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/funds/fund-1/matches?cursor=%21%21not-base64", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchesUnknownFund(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/funds/no-such-fund/matches", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// seedMatch ranks once so a persisted match score exists, then returns its ID.
func seedMatch(t *testing.T, s *Server, records store.Store) string {
	t.Helper()
	rec := doJSON(t, s.Router(), http.MethodGet, "/funds/fund-1/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page scoring.RankPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.NotEmpty(t, page.Matches)

	id := page.Matches[0].Score.ID
	_, err := records.MatchScore(context.Background(), id)
	require.NoError(t, err, "ranking persists the score")
	return id
}

func TestPitchHappyPath(t *testing.T) {
	sections := map[string]string{
		"hook":       "Dear Dana, given Cascadia State Pension's focus on growth-equity managers, I wanted to introduce Meridian Growth II.",
		"value_prop": "We back vertical software companies in mid-market niches, matching your software allocation.",
		"ask":        "Could we schedule twenty minutes next week?",
	}
	genRaw, _ := json.Marshal(map[string]any{"sections": sections, "missing_data": []string{}})
	critRaw, _ := json.Marshal(map[string]any{"claims": []any{}})
	llm := &queuedLLM{genQueue: []string{string(genRaw)}, critQueue: []string{string(critRaw)}}

	s, records := newTestServer(t, llm)
	matchID := seedMatch(t, s, records)

	rec := doJSON(t, s.Router(), http.MethodPost, "/matches/"+matchID+"/pitch",
		map[string]string{"type": "email"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var art model.FinalArtifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &art))
	assert.Equal(t, model.TierApproved, art.Tier)
	assert.Equal(t, matchID, art.MatchID)
	assert.NotEmpty(t, art.ID)

	stored, err := records.Artifact(context.Background(), art.ID)
	require.NoError(t, err)
	assert.Equal(t, art.Tier, stored.Tier)
}

func TestPitchUnknownMatch(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	rec := doJSON(t, s.Router(), http.MethodPost, "/matches/no-such-match/pitch",
		map[string]string{"type": "email"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPitchRejectsUnknownType(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	rec := doJSON(t, s.Router(), http.MethodPost, "/matches/any/pitch",
		map[string]string{"type": "haiku"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPitchQuotaExceededReturns429(t *testing.T) {
	llm := &queuedLLM{}
	s, records := newTestServer(t, llm)
	matchID := seedMatch(t, s, records)

	// Shrink the daily budget below a single generation's estimate.
	cfg := testServerConfig()
	cfg.Quota.TokensPerDay = 10
	quotas := quota.NewRegistry(cfg.Quota)
	gen := pitch.NewGenerator(llm, quotas, cfg.Anthropic)
	critic := pitch.NewCritic(llm, s.facts, quotas, cfg.Anthropic, cfg.Pitch)
	s.synth = pitch.NewSynthesizer(gen, critic, cfg.Pitch, records)

	rec := doJSON(t, s.Router(), http.MethodPost, "/matches/"+matchID+"/pitch",
		map[string]string{"type": "email"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	assert.NotEqual(t, "0", retryAfter)
}

func TestFeedbackRecordsInteraction(t *testing.T) {
	sections := map[string]string{
		"hook":       "Dear Dana, given Cascadia State Pension's focus on growth-equity managers, I wanted to introduce Meridian Growth II.",
		"value_prop": "We back vertical software companies in mid-market niches, matching your software allocation.",
		"ask":        "Could we schedule twenty minutes next week?",
	}
	genRaw, _ := json.Marshal(map[string]any{"sections": sections, "missing_data": []string{}})
	critRaw, _ := json.Marshal(map[string]any{"claims": []any{}})
	llm := &queuedLLM{genQueue: []string{string(genRaw)}, critQueue: []string{string(critRaw)}}

	s, records := newTestServer(t, llm)
	matchID := seedMatch(t, s, records)

	rec := doJSON(t, s.Router(), http.MethodPost, "/matches/"+matchID+"/pitch",
		map[string]string{"type": "email"})
	require.Equal(t, http.StatusOK, rec.Code)
	var art model.FinalArtifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &art))

	rec = doJSON(t, s.Router(), http.MethodPost, "/artifacts/"+art.ID+"/feedback",
		map[string]any{
			"org_id":  "org-1",
			"action":  "feedback",
			"lp_id":   "lp-1",
			"payload": map[string]any{"tone": "formal"},
		})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	got, err := records.RecentInteractions(context.Background(), "org-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionFeedback, got[0].Action)
	assert.Equal(t, model.LPPension, got[0].LPType, "lp type resolved from the fact store")
}

func TestFeedbackValidation(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/artifacts/any/feedback",
		map[string]string{"action": "shortlist"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing org_id")

	rec = doJSON(t, r, http.MethodPost, "/artifacts/any/feedback",
		map[string]string{"org_id": "org-1", "action": "frobnicate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown action")

	rec = doJSON(t, r, http.MethodPost, "/artifacts/no-such-artifact/feedback",
		map[string]string{"org_id": "org-1", "action": "shortlist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchesPagination(t *testing.T) {
	s, _ := newTestServer(t, &queuedLLM{})
	r := s.Router()

	rec := doJSON(t, r, http.MethodGet, "/funds/fund-1/matches?page_size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var first scoring.RankPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Len(t, first.Matches, 1)
	require.NotEmpty(t, first.NextCursor)

	rec = doJSON(t, r, http.MethodGet, "/funds/fund-1/matches?page_size=1&cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var second scoring.RankPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Len(t, second.Matches, 1)
	assert.NotEqual(t, first.Matches[0].Score.LPID, second.Matches[0].Score.LPID)

	seen := []string{first.Matches[0].Score.LPID, second.Matches[0].Score.LPID}
	assert.ElementsMatch(t, []string{"lp-1", "lp-2"}, seen)
	assert.False(t, strings.EqualFold(seen[0], seen[1]))
}
