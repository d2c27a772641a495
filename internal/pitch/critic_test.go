package pitch

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
)

func draftOf(sections map[string]string) *model.PitchDraft {
	return &model.PitchDraft{
		ID:        uuid.NewString(),
		MatchID:   "match-1",
		Type:      model.ArtifactEmail,
		Sections:  sections,
		Attempt:   1,
		Tone:      "formal",
		CreatedAt: time.Now(),
	}
}

func newTestCritic(t *testing.T, llm *scriptedLLM) *Critic {
	t.Helper()
	return NewCritic(llm, pitchFacts(t), nil, testAnthropicConfig(), testPitchConfig())
}

func TestCritiqueCleanDraftApproves(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)

	assert.Empty(t, crit.Issues)
	assert.Equal(t, float64(100), crit.Accuracy)
	assert.Equal(t, float64(100), crit.Personalization)
	assert.Equal(t, model.RecommendApprove, crit.Recommendation)
}

func TestCritiqueAccurateClaimPasses(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "Acme Exit returned 3.1x", "kind": "moic", "deal": "Acme Exit", "value": 3.1,
	})}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)
	assert.Empty(t, crit.Issues)
	assert.Equal(t, float64(100), crit.Accuracy)
}

func TestCritiqueFalseMOICIsCritical(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "Acme Exit returned 4.0x", "kind": "moic", "deal": "Acme Exit", "value": 4.0,
	})}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)

	require.Len(t, crit.Issues, 1)
	assert.Equal(t, model.IssueFactualError, crit.Issues[0].Type)
	assert.Equal(t, model.SeverityCritical, crit.Issues[0].Severity)
	assert.True(t, crit.HasCritical())
	// A critical finding blocks approval regardless of the other dimensions.
	assert.NotEqual(t, model.RecommendApprove, crit.Recommendation)
	assert.NotEqual(t, model.RecommendApproveWithNotes, crit.Recommendation)
}

func TestCritiqueUnrecordedOwnFundClaimIsCritical(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "Zenith Deal returned 2.0x", "kind": "moic", "deal": "Zenith Deal", "value": 2.0,
	})}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)

	// A numeric claim about the fund's own record with nothing backing it is
	// as severe as a contradicted one.
	require.Len(t, crit.Issues, 1)
	assert.Equal(t, model.SeverityCritical, crit.Issues[0].Severity)
	assert.True(t, crit.HasCritical())
}

func TestCritiqueVagueClaimIsMinor(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "our returns have consistently been strong", "kind": "moic",
	})}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)

	require.Len(t, crit.Issues, 1)
	assert.Equal(t, model.SeverityMinor, crit.Issues[0].Severity)
	assert.False(t, crit.HasCritical())
}

func TestCritiqueFabricatedCommitmentIsCritical(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "as in your prior commitment to our first fund", "kind": "commitment",
	})}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)
	assert.True(t, crit.HasCritical())
}

func TestCritiqueRecordedCommitmentPasses(t *testing.T) {
	facts := pitchFacts(t)
	facts.PutCommitment(model.Commitment{
		ID:        "cm-1",
		LPID:      "lp-1",
		FundName:  "Meridian Growth II",
		AmountUSD: 15_000_000,
		Date:      time.Now(),
	})
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "building on your $15M commitment", "kind": "commitment", "value": 15_000_000,
	})}}
	critic := NewCritic(llm, facts, nil, testAnthropicConfig(), testPitchConfig())

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.NoError(t, err)
	assert.Empty(t, crit.Issues)
}

func TestCritiqueGenericContentFlagged(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(genericSections()), pitchFund(), pitchLP())
	require.NoError(t, err)

	var found bool
	for _, is := range crit.Issues {
		if is.Type == model.IssueGenericContent {
			found = true
			assert.Equal(t, model.SeverityMajor, is.Severity)
		}
	}
	assert.True(t, found, "generic draft must be flagged")
	assert.Less(t, crit.Personalization, float64(100))
}

func TestCritiqueToneMismatchFlagged(t *testing.T) {
	sections := cleanSections()
	sections["hook"] = "Hey! Super excited to tell Cascadia State Pension about our growth-equity fund and its killer returns in software."
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(sections), pitchFund(), pitchLP())
	require.NoError(t, err)

	var toneIssues int
	for _, is := range crit.Issues {
		if is.Type == model.IssueToneMismatch {
			toneIssues++
		}
	}
	assert.GreaterOrEqual(t, toneIssues, 2)
	assert.Less(t, crit.Tone, float64(100))
}

func TestCritiqueOverallIsUnweightedMean(t *testing.T) {
	sections := cleanSections()
	sections["hook"] = "What an exciting opportunity for Cascadia State Pension! Our growth-equity fund is raising now."
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(sections), pitchFund(), pitchLP())
	require.NoError(t, err)

	mean := (crit.Accuracy + crit.Personalization + crit.Tone + crit.Structure) / 4
	assert.Equal(t, math.Round(mean), crit.Overall)
	assert.NotEqual(t, model.RecommendApprove, crit.Recommendation)
}

func TestCritiqueCasualToneForPensionNeverApproves(t *testing.T) {
	sections := cleanSections()
	sections["hook"] = "What an exciting opportunity for Cascadia State Pension! We are thrilled to introduce our growth-equity fund."
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(sections), pitchFund(), pitchLP())
	require.NoError(t, err)

	var found bool
	for _, is := range crit.Issues {
		if is.Type == model.IssueToneMismatch {
			found = true
		}
	}
	assert.True(t, found, "casual excitement must be flagged for a pension")
	assert.Less(t, crit.Tone, float64(60))
	assert.Contains(t,
		[]model.Recommendation{model.RecommendRegenerate, model.RecommendApproveWithNotes},
		crit.Recommendation)
}

func TestCritiqueLimitedDataCapsPersonalization(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	draft := draftOf(cleanSections())
	draft.LimitedData = true
	draft.MissingData = []string{"track record"}

	crit, err := critic.Critique(context.Background(), "org-1", draft, pitchFund(), pitchLP())
	require.NoError(t, err)
	assert.LessOrEqual(t, crit.Personalization, float64(60))
}

// failingCommitments simulates a fact store whose commitment lookup is down.
type failingCommitments struct {
	*factstore.Memory
}

func (f *failingCommitments) Commitment(context.Context, string, string) (*model.Commitment, error) {
	return nil, errors.New("factstore: connection refused")
}

func TestCritiqueCommitmentLookupFailurePropagates(t *testing.T) {
	llm := &scriptedLLM{critQueue: []llmReply{critReply(map[string]any{
		"text": "building on your $15M commitment", "kind": "commitment", "value": 15_000_000,
	})}}
	critic := NewCritic(llm, &failingCommitments{pitchFacts(t)}, nil, testAnthropicConfig(), testPitchConfig())

	// An infrastructure failure fails the critique; it is not evidence of a
	// fabricated commitment.
	_, err := critic.Critique(context.Background(), "org-1", draftOf(cleanSections()), pitchFund(), pitchLP())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify commitment")
}

func TestCritiqueEmptySectionFlagged(t *testing.T) {
	sections := cleanSections()
	sections["ask"] = "  "
	llm := &scriptedLLM{critQueue: []llmReply{critReply()}}
	critic := newTestCritic(t, llm)

	crit, err := critic.Critique(context.Background(), "org-1", draftOf(sections), pitchFund(), pitchLP())
	require.NoError(t, err)

	var found bool
	for _, is := range crit.Issues {
		if is.Type == model.IssueMissingData && is.Severity == model.SeverityMajor {
			found = true
		}
	}
	assert.True(t, found)
	assert.Less(t, crit.Structure, float64(100))
}

func TestCritiqueDeterministic(t *testing.T) {
	reply := critReply(map[string]any{
		"text": "Acme Exit returned 3.1x", "kind": "moic", "deal": "Acme Exit", "value": 3.1,
	})
	draft := draftOf(cleanSections())

	var overalls []float64
	for i := 0; i < 3; i++ {
		llm := &scriptedLLM{critQueue: []llmReply{reply}}
		critic := newTestCritic(t, llm)
		crit, err := critic.Critique(context.Background(), "org-1", draft, pitchFund(), pitchLP())
		require.NoError(t, err)
		overalls = append(overalls, crit.Overall)
	}
	assert.Equal(t, overalls[0], overalls[1])
	assert.Equal(t, overalls[1], overalls[2])
}

func TestDeriveRecommendationTable(t *testing.T) {
	tests := []struct {
		name    string
		overall float64
		worst   model.IssueSeverity
		want    model.Recommendation
	}{
		{"high clean", 90, "", model.RecommendApprove},
		{"boundary approve", 85, model.SeverityMinor, model.RecommendApprove},
		{"notes", 75, model.SeverityMajor, model.RecommendApproveWithNotes},
		{"regenerate", 60, model.SeverityMajor, model.RecommendRegenerate},
		{"reject", 40, "", model.RecommendReject},
		{"critical blocks approve", 95, model.SeverityCritical, model.RecommendRegenerate},
		{"critical low rejects", 45, model.SeverityCritical, model.RecommendReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.DeriveRecommendation(tt.overall, tt.worst))
		})
	}
}
