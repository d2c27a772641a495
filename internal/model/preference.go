package model

import "time"

// InteractionAction is a GP action observed by the preference learner.
type InteractionAction string

const (
	ActionShortlist InteractionAction = "shortlist"
	ActionDismiss   InteractionAction = "dismiss"
	ActionEdit      InteractionAction = "edit"
	ActionFeedback  InteractionAction = "feedback"
)

// Interaction is a single append-only GP signal. Interactions are the source
// of truth for learned preferences; preferences themselves are derived state.
type Interaction struct {
	ID      string            `json:"id"`
	OrgID   string            `json:"org_id"`
	Action  InteractionAction `json:"action"`
	LPID    string            `json:"lp_id,omitempty"`
	LPType  LPType            `json:"lp_type,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
	At      time.Time         `json:"at"`
}

// PreferenceKind names what a learned preference adjusts.
type PreferenceKind string

const (
	PrefTone           PreferenceKind = "tone"
	PrefLPTypeAffinity PreferenceKind = "lp_type_affinity"
	PrefFactorWeight   PreferenceKind = "factor_weight"
	PrefDetailLevel    PreferenceKind = "detail_level"
)

// LearnedPreference is a per-organization derived preference. Never shared
// across organizations. Mixed preferences carry no weight adjustment.
type LearnedPreference struct {
	OrgID         string         `json:"org_id"`
	Kind          PreferenceKind `json:"kind"`
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	Confidence    float64        `json:"confidence"`
	SampleSize    int            `json:"sample_size"`
	Mixed         bool           `json:"mixed"`
	LastConfirmed time.Time      `json:"last_confirmed"`
}
