package model

import "time"

// ArtifactType names the kind of outreach content being produced.
type ArtifactType string

const (
	ArtifactEmail       ArtifactType = "email"
	ArtifactSummary     ArtifactType = "summary"
	ArtifactCoverLetter ArtifactType = "cover_letter"
)

// RequiredSections returns the sections a well-formed draft of this type
// must contain, in order.
func (a ArtifactType) RequiredSections() []string {
	switch a {
	case ArtifactEmail:
		return []string{"hook", "value_prop", "ask"}
	case ArtifactSummary:
		return []string{"intro", "alignment", "track_record", "team", "why_now"}
	case ArtifactCoverLetter:
		return []string{"intro", "alignment", "ask"}
	default:
		return nil
	}
}

// PitchDraft is one generation attempt. Regeneration supersedes a draft with
// a new one; the chain is retained for audit and the best-effort fallback.
type PitchDraft struct {
	ID          string            `json:"id"`
	MatchID     string            `json:"match_id"`
	Type        ArtifactType      `json:"type"`
	Sections    map[string]string `json:"sections"`
	Attempt     int               `json:"attempt"`
	Tone        string            `json:"tone"`
	LimitedData bool              `json:"limited_data"`
	MissingData []string          `json:"missing_data,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Text returns the draft sections joined in the artifact's canonical order.
func (d *PitchDraft) Text() string {
	var out string
	for _, name := range d.Type.RequiredSections() {
		if s, ok := d.Sections[name]; ok && s != "" {
			if out != "" {
				out += "\n\n"
			}
			out += s
		}
	}
	return out
}

// IssueType classifies a critique finding.
type IssueType string

const (
	IssueFactualError   IssueType = "factual_error"
	IssueGenericContent IssueType = "generic_content"
	IssueToneMismatch   IssueType = "tone_mismatch"
	IssueMissingData    IssueType = "missing_data"
)

// IssueSeverity orders critique findings. Critical issues set a hard floor:
// drafts carrying one are never auto-delivered.
type IssueSeverity string

const (
	SeverityMinor    IssueSeverity = "minor"
	SeverityMajor    IssueSeverity = "major"
	SeverityCritical IssueSeverity = "critical"
)

// Issue is a single flagged problem in a draft.
type Issue struct {
	Type        IssueType     `json:"type"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	Claim       string        `json:"claim,omitempty"`
}

// Recommendation is the critic's verdict on a draft.
type Recommendation string

const (
	RecommendApprove          Recommendation = "approve"
	RecommendApproveWithNotes Recommendation = "approve_with_notes"
	RecommendRegenerate       Recommendation = "regenerate"
	RecommendReject           Recommendation = "reject"
)

// Critique is the structured evaluation of one draft by one critic pass.
type Critique struct {
	DraftID         string         `json:"draft_id"`
	Accuracy        float64        `json:"accuracy"`
	Personalization float64        `json:"personalization"`
	Tone            float64        `json:"tone"`
	Structure       float64        `json:"structure"`
	Overall         float64        `json:"overall"`
	Issues          []Issue        `json:"issues,omitempty"`
	Recommendation  Recommendation `json:"recommendation"`
	CritiquedAt     time.Time      `json:"critiqued_at"`
}

// WorstSeverity returns the most severe issue present, or "" when clean.
func (c *Critique) WorstSeverity() IssueSeverity {
	worst := IssueSeverity("")
	rank := map[IssueSeverity]int{SeverityMinor: 1, SeverityMajor: 2, SeverityCritical: 3}
	for _, is := range c.Issues {
		if rank[is.Severity] > rank[worst] {
			worst = is.Severity
		}
	}
	return worst
}

// HasCritical reports whether any critical issue was flagged.
func (c *Critique) HasCritical() bool {
	return c.WorstSeverity() == SeverityCritical
}

// DeriveRecommendation maps an overall score and the worst issue severity to
// a recommendation. Pure: the same inputs always produce the same verdict.
func DeriveRecommendation(overall float64, worst IssueSeverity) Recommendation {
	if worst == SeverityCritical {
		// A critical issue blocks approval outright regardless of the
		// other dimensions. Below 50 the draft is not worth another pass.
		if overall >= 50 {
			return RecommendRegenerate
		}
		return RecommendReject
	}
	switch {
	case overall >= 85:
		return RecommendApprove
	case overall >= 70:
		return RecommendApproveWithNotes
	case overall >= 50:
		return RecommendRegenerate
	default:
		return RecommendReject
	}
}

// QualityTier labels the artifact that is ultimately surfaced to the GP.
type QualityTier string

const (
	TierApproved          QualityTier = "approve"
	TierApprovedWithNotes QualityTier = "approve_with_notes"
	TierBestEffort        QualityTier = "best_effort"
	TierFallbackTemplate  QualityTier = "fallback_template"
)

// FinalArtifact is the terminal output of one synthesizer run. It references
// exactly one terminal draft plus the full attempt chain for audit.
type FinalArtifact struct {
	ID          string      `json:"id"`
	MatchID     string      `json:"match_id"`
	Draft       PitchDraft  `json:"draft"`
	Tier        QualityTier `json:"tier"`
	Suggestions []string    `json:"suggestions,omitempty"`
	AttemptIDs  []string    `json:"attempt_ids"`
	HumanReview bool        `json:"human_review"`
	Warnings    []string    `json:"warnings,omitempty"`
	ProducedAt  time.Time   `json:"produced_at"`
}
