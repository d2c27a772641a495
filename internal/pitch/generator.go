package pitch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/resilience"
	"github.com/meridian-group/lpmatch-cli/pkg/anthropic"
)

const generatorMaxTokens = 2048

// GenerateRequest carries everything one generation attempt needs.
type GenerateRequest struct {
	MatchID      string
	OrgID        string
	Fund         *model.FundProfile
	LP           *model.LPProfile
	Type         model.ArtifactType
	Tone         string
	DetailLevel  string
	Attempt      int
	MatchFactors []model.FactorScore
	// PriorIssues directs a regeneration at the previous critique's
	// findings.
	PriorIssues []model.Issue
}

// Generator produces pitch drafts through the LLM provider under per-org
// quota control.
type Generator struct {
	llm    anthropic.Client
	quotas *quota.Registry
	cfg    config.AnthropicConfig
	now    func() time.Time
}

// NewGenerator creates a draft generator. quotas may be nil to disable
// budget enforcement.
func NewGenerator(llm anthropic.Client, quotas *quota.Registry, cfg config.AnthropicConfig) *Generator {
	return &Generator{llm: llm, quotas: quotas, cfg: cfg, now: time.Now}
}

// generatorOutput is the JSON shape the model is instructed to return.
type generatorOutput struct {
	Sections    map[string]string `json:"sections"`
	MissingData []string          `json:"missing_data"`
}

// Generate produces one draft. Transport failures are retried with backoff;
// those retries do not count as regeneration attempts. A quota refusal is
// returned as-is so callers can fail fast with the retry-after hint.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*model.PitchDraft, error) {
	if req.Fund == nil || req.LP == nil {
		return nil, eris.New("pitch: generate requires fund and lp profiles")
	}
	if len(req.Type.RequiredSections()) == 0 {
		return nil, eris.Errorf("pitch: unknown artifact type %q", req.Type)
	}

	prompt := buildGeneratorPrompt(req)

	if g.quotas != nil {
		// Rough upper bound: prompt chars over four plus the output cap.
		est := len(prompt)/4 + generatorMaxTokens
		if err := g.quotas.Acquire(ctx, req.OrgID, est); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout())
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "generate_draft")

	out, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) (*generatorOutput, error) {
		resp, err := g.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.cfg.GeneratorModel,
			MaxTokens: generatorMaxTokens,
			System:    generatorSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		if g.quotas != nil {
			g.quotas.Consume(req.OrgID, int(resp.Usage.Total()))
		}
		resp.Usage.LogCost(g.cfg.GeneratorModel, "generate")

		// Empty, malformed, or schema-incomplete output is a transport
		// failure. It is retried here and never reaches the regeneration
		// budget.
		out, err := parseGeneratorOutput(resp.Text())
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		if missing := missingSections(req.Type, out.Sections); len(missing) > 0 {
			return nil, resilience.NewTransientError(
				eris.Errorf("pitch: draft missing sections: %s", strings.Join(missing, ", ")), 0)
		}
		return out, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pitch: generate draft")
	}

	draft := &model.PitchDraft{
		ID:          uuid.NewString(),
		MatchID:     req.MatchID,
		Type:        req.Type,
		Sections:    out.Sections,
		Attempt:     req.Attempt,
		Tone:        req.Tone,
		MissingData: out.MissingData,
		CreatedAt:   g.now(),
	}
	draft.Inputs = describeInputs(req)

	if len(out.MissingData) > 0 {
		draft.LimitedData = true
	}

	zap.L().Debug("pitch: draft generated",
		zap.String("match_id", req.MatchID),
		zap.String("type", string(req.Type)),
		zap.Int("attempt", req.Attempt),
		zap.Bool("limited_data", draft.LimitedData),
	)
	return draft, nil
}

// parseGeneratorOutput decodes the model's JSON reply, tolerating code
// fences around the object.
func parseGeneratorOutput(text string) (*generatorOutput, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, eris.New("pitch: no JSON object in model output")
	}
	var out generatorOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "pitch: decode model output")
	}
	if len(out.Sections) == 0 {
		return nil, eris.New("pitch: model output has no sections")
	}
	return &out, nil
}

// extractJSON returns the outermost {...} span of the text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func missingSections(typ model.ArtifactType, sections map[string]string) []string {
	var missing []string
	for _, name := range typ.RequiredSections() {
		if strings.TrimSpace(sections[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// describeInputs records which profile facts fed the draft, for audit.
func describeInputs(req GenerateRequest) []string {
	inputs := []string{
		"fund:" + req.Fund.ID,
		"lp:" + req.LP.ID,
	}
	if len(req.Fund.TrackRecord) > 0 {
		inputs = append(inputs, "fund:track_record")
	}
	if len(req.MatchFactors) > 0 {
		inputs = append(inputs, "match:factors")
	}
	return inputs
}
