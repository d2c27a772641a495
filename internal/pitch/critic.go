package pitch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/resilience"
	"github.com/meridian-group/lpmatch-cli/pkg/anthropic"
)

const criticMaxTokens = 1024

// moicTolerance is the allowed absolute drift between a claimed and a
// recorded return multiple before the claim counts as false.
const moicTolerance = 0.05

// commitmentTolerance is the allowed relative drift between a claimed and a
// recorded commitment amount.
const commitmentTolerance = 0.05

// toneMismatchCeiling caps the tone dimension once any off-register phrase
// is flagged. At this ceiling the four-way mean stays below the approve band
// even when the other three dimensions are perfect.
const toneMismatchCeiling = 35.0

// limitedDataPersonalizationCap bounds the personalization dimension for
// drafts generated from incomplete profile data.
const limitedDataPersonalizationCap = 60.0

// Critic evaluates drafts on accuracy, personalization, tone, and structure.
// Claim extraction goes through the LLM; every verdict on an extracted claim
// is checked deterministically against the fact store.
type Critic struct {
	llm      anthropic.Client
	facts    factstore.FactStore
	quotas   *quota.Registry
	cfg      config.AnthropicConfig
	pitchCfg config.PitchConfig
	now      func() time.Time
}

// NewCritic creates a critic. quotas may be nil.
func NewCritic(llm anthropic.Client, facts factstore.FactStore, quotas *quota.Registry, cfg config.AnthropicConfig, pitchCfg config.PitchConfig) *Critic {
	return &Critic{llm: llm, facts: facts, quotas: quotas, cfg: cfg, pitchCfg: pitchCfg, now: time.Now}
}

// claim is one extracted checkable assertion.
type claim struct {
	Text  string  `json:"text"`
	Kind  string  `json:"kind"`
	Deal  string  `json:"deal,omitempty"`
	Value float64 `json:"value,omitempty"`
}

type criticOutput struct {
	Claims []claim `json:"claims"`
}

// Critique evaluates one draft for the given pair. The returned critique is
// deterministic given the same draft text, extracted claims, and fact store
// contents.
func (c *Critic) Critique(ctx context.Context, orgID string, draft *model.PitchDraft, fund *model.FundProfile, lp *model.LPProfile) (*model.Critique, error) {
	claims, err := c.extractClaims(ctx, orgID, draft)
	if err != nil {
		return nil, err
	}

	crit := &model.Critique{
		DraftID:     draft.ID,
		CritiquedAt: c.now(),
	}

	crit.Accuracy, err = c.checkAccuracy(ctx, claims, fund, lp, crit)
	if err != nil {
		return nil, err
	}
	crit.Personalization = c.checkPersonalization(draft, fund, lp, crit)
	crit.Tone = c.checkTone(draft, lp, crit)
	crit.Structure = c.checkStructure(draft, crit)

	// All four dimensions are mandatory; the overall score is their
	// unweighted mean.
	crit.Overall = math.Round((crit.Accuracy + crit.Personalization + crit.Tone + crit.Structure) / 4)
	crit.Recommendation = model.DeriveRecommendation(crit.Overall, crit.WorstSeverity())

	return crit, nil
}

func (c *Critic) extractClaims(ctx context.Context, orgID string, draft *model.PitchDraft) ([]claim, error) {
	prompt := buildCriticPrompt(draft)

	if c.quotas != nil {
		est := len(prompt)/4 + criticMaxTokens
		if err := c.quotas.Acquire(ctx, orgID, est); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "extract_claims")

	claims, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) ([]claim, error) {
		resp, err := c.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.cfg.CriticModel,
			MaxTokens: criticMaxTokens,
			System:    criticSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		if c.quotas != nil {
			c.quotas.Consume(orgID, int(resp.Usage.Total()))
		}
		resp.Usage.LogCost(c.cfg.CriticModel, "critique")

		// Empty or malformed output counts as a transport failure and is
		// retried inside this call, not surfaced to the synthesizer.
		raw := extractJSON(resp.Text())
		if raw == "" {
			return nil, resilience.NewTransientError(eris.New("pitch: no JSON object in critic output"), 0)
		}
		var out criticOutput
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "pitch: decode critic output"), 0)
		}
		return out.Claims, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pitch: extract claims")
	}
	return claims, nil
}

// checkAccuracy verifies each extracted claim against the fact store.
// Numeric claims about the fund's own record that the record contradicts or
// cannot confirm are critical; merely vague claims are minor.
func (c *Critic) checkAccuracy(ctx context.Context, claims []claim, fund *model.FundProfile, lp *model.LPProfile, crit *model.Critique) (float64, error) {
	score := 100.0
	for _, cl := range claims {
		switch cl.Kind {
		case "moic":
			score -= c.checkMOICClaim(cl, fund, crit)
		case "commitment":
			penalty, err := c.checkCommitmentClaim(ctx, cl, fund, lp, crit)
			if err != nil {
				return 0, err
			}
			score -= penalty
		}
	}
	return math.Max(0, score), nil
}

func (c *Critic) checkMOICClaim(cl claim, fund *model.FundProfile, crit *model.Critique) float64 {
	if cl.Deal == "" {
		crit.Issues = append(crit.Issues, model.Issue{
			Type:        model.IssueFactualError,
			Severity:    model.SeverityMinor,
			Claim:       cl.Text,
			Description: "return claim names no deal and cannot be verified",
		})
		return 10
	}
	for _, tr := range fund.TrackRecord {
		if !strings.EqualFold(tr.Deal, cl.Deal) {
			continue
		}
		if math.Abs(tr.MOIC-cl.Value) <= moicTolerance {
			return 0
		}
		crit.Issues = append(crit.Issues, model.Issue{
			Type:     model.IssueFactualError,
			Severity: model.SeverityCritical,
			Claim:    cl.Text,
			Description: fmt.Sprintf("claimed %.1fx MOIC on %s, record shows %.1fx",
				cl.Value, tr.Deal, tr.MOIC),
		})
		return 50
	}
	// A numeric claim about the fund's own record with no entry backing it
	// is as bad as a contradicted one.
	crit.Issues = append(crit.Issues, model.Issue{
		Type:        model.IssueFactualError,
		Severity:    model.SeverityCritical,
		Claim:       cl.Text,
		Description: fmt.Sprintf("no track record entry for deal %q", cl.Deal),
	})
	return 50
}

func (c *Critic) checkCommitmentClaim(ctx context.Context, cl claim, fund *model.FundProfile, lp *model.LPProfile, crit *model.Critique) (float64, error) {
	cm, err := c.facts.Commitment(ctx, lp.Name, fund.Name)
	if err != nil {
		if !eris.Is(err, factstore.ErrNotFound) {
			// A fact store outage is not evidence of fabrication; the
			// critique fails instead of stamping the draft critical.
			return 0, eris.Wrap(err, "pitch: verify commitment")
		}
		// Asserting a relationship the record does not hold is the worst
		// failure this pipeline can ship.
		crit.Issues = append(crit.Issues, model.Issue{
			Type:        model.IssueFactualError,
			Severity:    model.SeverityCritical,
			Claim:       cl.Text,
			Description: fmt.Sprintf("no recorded commitment from %s to %s", lp.Name, fund.Name),
		})
		return 50, nil
	}
	if cl.Value > 0 && relDiff(cl.Value, float64(cm.AmountUSD)) > commitmentTolerance {
		crit.Issues = append(crit.Issues, model.Issue{
			Type:     model.IssueFactualError,
			Severity: model.SeverityCritical,
			Claim:    cl.Text,
			Description: fmt.Sprintf("claimed $%.0f commitment, record shows $%d",
				cl.Value, cm.AmountUSD),
		})
		return 50, nil
	}
	return 0, nil
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}

// checkPersonalization counts distinct LP-specific references in the draft.
// Below the configured floor the draft is generic boilerplate.
func (c *Critic) checkPersonalization(draft *model.PitchDraft, fund *model.FundProfile, lp *model.LPProfile, crit *model.Critique) float64 {
	refs := countSpecificRefs(draft.Text(), lp)

	minRefs := c.pitchCfg.MinSpecificRefs
	if minRefs <= 0 {
		minRefs = 1
	}
	score := math.Min(100, 100*float64(refs)/float64(minRefs))
	if draft.LimitedData {
		// A draft built from incomplete profile data cannot earn a full
		// personalization score however many references it manages.
		score = math.Min(score, limitedDataPersonalizationCap)
	}

	if refs < minRefs {
		crit.Issues = append(crit.Issues, model.Issue{
			Type:     model.IssueGenericContent,
			Severity: model.SeverityMajor,
			Description: fmt.Sprintf("only %d specific references to %s, need at least %d",
				refs, lp.Name, minRefs),
		})
	}
	return score
}

// countSpecificRefs counts distinct LP facts the text actually mentions.
func countSpecificRefs(text string, lp *model.LPProfile) int {
	lower := strings.ToLower(text)
	refs := 0
	seen := make(map[string]bool)

	mark := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || seen[token] {
			return
		}
		if strings.Contains(lower, token) {
			seen[token] = true
			refs++
		}
	}

	mark(lp.Name)
	if lp.Contact != nil {
		mark(lp.Contact.Name)
	}
	for _, tag := range lp.Tags() {
		mark(strings.ReplaceAll(tag, "-", " "))
		mark(tag)
	}
	if !lp.CheckSize.IsZero() {
		mark(formatUSD(lp.CheckSize.Min))
		mark(formatUSD(lp.CheckSize.Max))
	}
	return refs
}

// formatUSD renders an amount the way drafts usually spell it ($25M, $1.5B).
func formatUSD(v int64) string {
	switch {
	case v >= 1_000_000_000 && v%100_000_000 == 0:
		return "$" + strconv.FormatFloat(float64(v)/1e9, 'f', -1, 64) + "B"
	case v >= 1_000_000 && v%100_000 == 0:
		return "$" + strconv.FormatFloat(float64(v)/1e6, 'f', -1, 64) + "M"
	default:
		return "$" + strconv.FormatInt(v, 10)
	}
}

// checkTone flags off-register phrasing for the LP's institution type. Any
// flagged phrase caps the dimension below the approve band; a draft that
// reads wrong for its audience is never approved outright.
func (c *Critic) checkTone(draft *model.PitchDraft, lp *model.LPProfile, crit *model.Critique) float64 {
	lower := strings.ToLower(draft.Text())

	matched := 0
	for _, phrase := range offRegisterPhrases(lp.Type) {
		if !containsPhrase(lower, phrase) {
			continue
		}
		matched++
		crit.Issues = append(crit.Issues, model.Issue{
			Type:        model.IssueToneMismatch,
			Severity:    model.SeverityMinor,
			Description: fmt.Sprintf("phrase %q reads off-register for a %s", phrase, lp.Type),
		})
	}
	if matched > 0 {
		return math.Max(0, toneMismatchCeiling-10*float64(matched-1))
	}

	expected := ExpectedTone(lp.Type, "")
	if draft.Tone != "" && draft.Tone != expected {
		// The requested tone diverged from the audience default; only worth
		// noting when no concrete phrase tripped.
		return 85
	}
	return 100
}

// containsPhrase reports whether text contains phrase on word boundaries, so
// single-word markers do not fire inside longer words.
func containsPhrase(text, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) &&
			(end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// checkStructure verifies required sections and surfaces limited-data
// degradation as an explicit finding.
func (c *Critic) checkStructure(draft *model.PitchDraft, crit *model.Critique) float64 {
	required := draft.Type.RequiredSections()
	if len(required) == 0 {
		return 0
	}

	present := 0
	for _, name := range required {
		if strings.TrimSpace(draft.Sections[name]) != "" {
			present++
			continue
		}
		crit.Issues = append(crit.Issues, model.Issue{
			Type:        model.IssueMissingData,
			Severity:    model.SeverityMajor,
			Description: fmt.Sprintf("required section %q is empty", name),
		})
	}

	if draft.LimitedData {
		crit.Issues = append(crit.Issues, model.Issue{
			Type:        model.IssueMissingData,
			Severity:    model.SeverityMinor,
			Description: "draft was produced from incomplete profile data: " + strings.Join(draft.MissingData, ", "),
		})
	}

	return 100 * float64(present) / float64(len(required))
}
