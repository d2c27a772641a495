// Package store persists the derived records of the matching pipeline:
// match scores, the draft/critique chains behind each artifact, the final
// artifacts, and the interaction log the preference learner consumes. All
// history tables are append-only; recomputation inserts, it never updates.
package store

import (
	"context"
	"errors"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence interface for the matching pipeline.
type Store interface {
	// Match scores (append-only)
	AppendMatchScore(ctx context.Context, score model.MatchScore) error
	MatchScore(ctx context.Context, id string) (*model.MatchScore, error)
	LatestMatchScores(ctx context.Context, fundID string, limit int) ([]model.MatchScore, error)

	// Interactions (append-only) and derived preferences
	AppendInteraction(ctx context.Context, it model.Interaction) error
	RecentInteractions(ctx context.Context, orgID string, limit int) ([]model.Interaction, error)
	Preferences(ctx context.Context, orgID string) ([]model.LearnedPreference, error)
	PutPreference(ctx context.Context, p model.LearnedPreference) error

	// Pitch chain (append-only) and final artifacts
	AppendDraft(ctx context.Context, d model.PitchDraft) error
	Drafts(ctx context.Context, matchID string) ([]model.PitchDraft, error)
	AppendCritique(ctx context.Context, c model.Critique) error
	Critiques(ctx context.Context, draftID string) ([]model.Critique, error)
	PutArtifact(ctx context.Context, a model.FinalArtifact) error
	Artifact(ctx context.Context, id string) (*model.FinalArtifact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
