package pitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
)

// Store persists the draft chain, critiques, and the final artifact. All
// three are append-only; a regeneration never rewrites a prior row.
type Store interface {
	AppendDraft(ctx context.Context, d model.PitchDraft) error
	AppendCritique(ctx context.Context, c model.Critique) error
	PutArtifact(ctx context.Context, a model.FinalArtifact) error
}

// SynthesizeRequest describes one pitch production run.
type SynthesizeRequest struct {
	MatchID      string
	OrgID        string
	Fund         *model.FundProfile
	LP           *model.LPProfile
	Type         model.ArtifactType
	Tone         string
	DetailLevel  string
	MatchFactors []model.FactorScore
	// Stale marks the run as built on out-of-date profile inputs; it is
	// surfaced as a warning, never silently dropped.
	Stale bool
}

// Synthesizer drives the generate-critique loop to a terminal artifact.
// Every run ends in exactly one of: approved, approved with notes, best
// effort, or fallback template.
type Synthesizer struct {
	gen    *Generator
	critic *Critic
	cfg    config.PitchConfig
	store  Store // may be nil
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

type inflightRun struct {
	done     chan struct{}
	artifact *model.FinalArtifact
	err      error
}

// NewSynthesizer creates a synthesizer. store may be nil for dry runs.
func NewSynthesizer(gen *Generator, critic *Critic, cfg config.PitchConfig, store Store) *Synthesizer {
	return &Synthesizer{
		gen:      gen,
		critic:   critic,
		cfg:      cfg,
		store:    store,
		now:      time.Now,
		inflight: make(map[string]*inflightRun),
	}
}

// Synthesize produces the final artifact for a match. Concurrent calls for
// the same match and artifact type coalesce onto one run rather than
// spending the budget twice.
func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*model.FinalArtifact, error) {
	key := req.MatchID + "/" + string(req.Type)

	s.mu.Lock()
	if run, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-run.done:
			return run.artifact, run.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	run := &inflightRun{done: make(chan struct{})}
	s.inflight[key] = run
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		close(run.done)
	}()

	run.artifact, run.err = s.run(ctx, req)
	return run.artifact, run.err
}

// attemptOutcome pairs one draft with its critique.
type attemptOutcome struct {
	draft    *model.PitchDraft
	critique *model.Critique
}

func (s *Synthesizer) run(ctx context.Context, req SynthesizeRequest) (*model.FinalArtifact, error) {
	// The wall clock bounds the whole run including transport retries,
	// which do not consume the attempt budget on their own.
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.WallClock())
	defer cancel()

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	tone := ExpectedTone(req.LP.Type, req.Tone)

	var (
		attemptIDs  []string
		best        *attemptOutcome
		priorIssues []model.Issue
		degraded    bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		draft, err := s.gen.Generate(runCtx, GenerateRequest{
			MatchID:      req.MatchID,
			OrgID:        req.OrgID,
			Fund:         req.Fund,
			LP:           req.LP,
			Type:         req.Type,
			Tone:         tone,
			DetailLevel:  req.DetailLevel,
			Attempt:      attempt,
			MatchFactors: req.MatchFactors,
			PriorIssues:  priorIssues,
		})
		if err != nil {
			if quota.IsExceeded(err) {
				return nil, err
			}
			zap.L().Warn("pitch: generation attempt failed",
				zap.String("match_id", req.MatchID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			degraded = true
			break
		}
		s.persistDraft(runCtx, draft)
		attemptIDs = append(attemptIDs, draft.ID)

		crit, err := s.critic.Critique(runCtx, req.OrgID, draft, req.Fund, req.LP)
		if err != nil {
			if quota.IsExceeded(err) {
				return nil, err
			}
			zap.L().Warn("pitch: critique failed",
				zap.String("draft_id", draft.ID),
				zap.Error(err),
			)
			degraded = true
			break
		}
		s.persistCritique(runCtx, crit)

		outcome := &attemptOutcome{draft: draft, critique: crit}

		// A draft carrying a critical fact error is never a delivery
		// candidate, whatever its overall score.
		if !crit.HasCritical() && (best == nil || crit.Overall > best.critique.Overall) {
			best = outcome
		}

		switch crit.Recommendation {
		case model.RecommendApprove:
			return s.finalize(ctx, req, outcome, model.TierApproved, attemptIDs, false)
		case model.RecommendApproveWithNotes:
			return s.finalize(ctx, req, outcome, model.TierApprovedWithNotes, attemptIDs, false)
		case model.RecommendRegenerate:
			priorIssues = crit.Issues
		case model.RecommendReject:
			if crit.HasCritical() {
				return s.fallback(ctx, req, attemptIDs,
					"draft rejected for a critical factual error")
			}
			priorIssues = crit.Issues
		}

		if runCtx.Err() != nil {
			degraded = true
			break
		}
	}

	// Budget or clock exhausted. Deliver the best clean draft from the
	// chain as best effort, or fall back to the template when every
	// attempt was compromised.
	if best != nil {
		art, err := s.finalize(ctx, req, best, model.TierBestEffort, attemptIDs, true)
		if err != nil {
			return nil, err
		}
		if degraded {
			art.Warnings = append(art.Warnings, model.MarkerDependencyUnavailable)
		}
		return art, nil
	}
	reason := "no attempt produced a deliverable draft"
	if degraded {
		reason = "generation unavailable before any deliverable draft"
	}
	return s.fallback(ctx, req, attemptIDs, reason)
}

func (s *Synthesizer) finalize(ctx context.Context, req SynthesizeRequest, outcome *attemptOutcome, tier model.QualityTier, attemptIDs []string, humanReview bool) (*model.FinalArtifact, error) {
	art := &model.FinalArtifact{
		ID:          uuid.NewString(),
		MatchID:     req.MatchID,
		Draft:       *outcome.draft,
		Tier:        tier,
		Suggestions: suggestions(outcome.critique),
		AttemptIDs:  attemptIDs,
		HumanReview: humanReview,
		ProducedAt:  s.now(),
	}
	if req.Stale {
		art.Warnings = append(art.Warnings, model.MarkerStaleInput)
	}
	if outcome.draft.LimitedData {
		art.Warnings = append(art.Warnings, model.MarkerLimitedData)
	}

	s.persistArtifact(ctx, art)
	zap.L().Info("pitch: artifact produced",
		zap.String("match_id", req.MatchID),
		zap.String("type", string(req.Type)),
		zap.String("tier", string(tier)),
		zap.Int("attempts", len(attemptIDs)),
	)
	return art, nil
}

func (s *Synthesizer) fallback(ctx context.Context, req SynthesizeRequest, attemptIDs []string, reason string) (*model.FinalArtifact, error) {
	draft := FallbackDraft(req.MatchID, req.Type, req.Fund, req.LP, s.now())
	s.persistDraft(ctx, draft)
	attemptIDs = append(attemptIDs, draft.ID)

	art := &model.FinalArtifact{
		ID:          uuid.NewString(),
		MatchID:     req.MatchID,
		Draft:       *draft,
		Tier:        model.TierFallbackTemplate,
		AttemptIDs:  attemptIDs,
		HumanReview: true,
		Warnings:    []string{model.MarkerLimitedData},
		ProducedAt:  s.now(),
	}
	if req.Stale {
		art.Warnings = append(art.Warnings, model.MarkerStaleInput)
	}

	s.persistArtifact(ctx, art)
	zap.L().Warn("pitch: fell back to template",
		zap.String("match_id", req.MatchID),
		zap.String("type", string(req.Type)),
		zap.String("reason", reason),
		zap.Int("attempts", len(attemptIDs)-1),
	)
	return art, nil
}

// suggestions turns critique issues into actionable notes for the GP.
func suggestions(crit *model.Critique) []string {
	if crit == nil || len(crit.Issues) == 0 {
		return nil
	}
	out := make([]string, 0, len(crit.Issues))
	for _, is := range crit.Issues {
		out = append(out, fmt.Sprintf("%s: %s", is.Type, is.Description))
	}
	return out
}

func (s *Synthesizer) persistDraft(ctx context.Context, d *model.PitchDraft) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendDraft(ctx, *d); err != nil {
		zap.L().Warn("pitch: failed to persist draft", zap.String("draft_id", d.ID), zap.Error(err))
	}
}

func (s *Synthesizer) persistCritique(ctx context.Context, c *model.Critique) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendCritique(ctx, *c); err != nil {
		zap.L().Warn("pitch: failed to persist critique", zap.String("draft_id", c.DraftID), zap.Error(err))
	}
}

func (s *Synthesizer) persistArtifact(ctx context.Context, a *model.FinalArtifact) {
	if s.store == nil {
		return
	}
	if err := s.store.PutArtifact(ctx, *a); err != nil {
		zap.L().Warn("pitch: failed to persist artifact", zap.String("match_id", a.MatchID), zap.Error(err))
	}
}
