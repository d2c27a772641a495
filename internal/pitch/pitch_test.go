package pitch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/pkg/anthropic"
)

const (
	testGenModel  = "gen-model"
	testCritModel = "crit-model"
)

func testAnthropicConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		GeneratorModel: testGenModel,
		CriticModel:    testCritModel,
		TimeoutSecs:    5,
	}
}

func testPitchConfig() config.PitchConfig {
	return config.PitchConfig{
		MaxAttempts:     3,
		MinSpecificRefs: 3,
		WallClockSecs:   30,
	}
}

// llmReply is one scripted response or failure.
type llmReply struct {
	text string
	err  error
}

// scriptedLLM serves queued replies, routed by model so one stub can stand
// in for both the generator and the critic.
type scriptedLLM struct {
	mu         sync.Mutex
	genQueue   []llmReply
	critQueue  []llmReply
	genCalls   int
	critCalls  int
	genPrompts []string
}

func (s *scriptedLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue *[]llmReply
	switch req.Model {
	case testGenModel:
		s.genCalls++
		if len(req.Messages) > 0 {
			s.genPrompts = append(s.genPrompts, req.Messages[0].Content)
		}
		queue = &s.genQueue
	default:
		s.critCalls++
		queue = &s.critQueue
	}

	if len(*queue) == 0 {
		panic("scriptedLLM: queue exhausted for model " + req.Model)
	}
	reply := (*queue)[0]
	*queue = (*queue)[1:]

	if reply.err != nil {
		return nil, reply.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: reply.text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 200},
	}, nil
}

func genReply(sections map[string]string, missing []string) llmReply {
	raw, _ := json.Marshal(map[string]any{
		"sections":     sections,
		"missing_data": missing,
	})
	return llmReply{text: string(raw)}
}

func critReply(claims ...map[string]any) llmReply {
	if claims == nil {
		claims = []map[string]any{}
	}
	raw, _ := json.Marshal(map[string]any{"claims": claims})
	return llmReply{text: string(raw)}
}

func pitchFund() *model.FundProfile {
	return &model.FundProfile{
		ID:           "fund-1",
		OrgID:        "org-1",
		Name:         "Meridian Growth II",
		Version:      3,
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

func pitchLP() *model.LPProfile {
	return &model.LPProfile{
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
	}
}

func pitchFacts(t *testing.T) *factstore.Memory {
	t.Helper()
	facts := factstore.NewMemory()
	facts.PutFund(*pitchFund())
	facts.PutLP(*pitchLP())
	return facts
}

// cleanSections is an email draft that references the LP by name plus two of
// its focus tags, clearing the personalization floor.
func cleanSections() map[string]string {
	return map[string]string{
		"hook":       "Dear Dana, given Cascadia State Pension's focus on growth-equity managers, I wanted to introduce Meridian Growth II.",
		"value_prop": "We back vertical software companies in mid-market niches, matching your software allocation.",
		"ask":        "Could we schedule twenty minutes next week?",
	}
}

// genericSections mentions nothing specific to the LP.
func genericSections() map[string]string {
	return map[string]string{
		"hook":       "Dear investor, I am writing to introduce our fund.",
		"value_prop": "We deliver strong returns across our portfolio.",
		"ask":        "Please let me know if you would like to learn more.",
	}
}

// memPitchStore records persisted drafts, critiques, and artifacts.
type memPitchStore struct {
	mu        sync.Mutex
	drafts    []model.PitchDraft
	critiques []model.Critique
	artifacts []model.FinalArtifact
}

func (m *memPitchStore) AppendDraft(_ context.Context, d model.PitchDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts = append(m.drafts, d)
	return nil
}

func (m *memPitchStore) AppendCritique(_ context.Context, c model.Critique) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critiques = append(m.critiques, c)
	return nil
}

func (m *memPitchStore) PutArtifact(_ context.Context, a model.FinalArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
	return nil
}
