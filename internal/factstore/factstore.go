// Package factstore provides read-only access to fund, LP, and commitment
// data. It feeds scoring inputs and the critic's fact checks.
package factstore

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = eris.New("factstore: not found")

// FactStore is the read-only accessor over structured fundraising data.
// Implementations must be read-consistent enough that a fact check reflects
// the profile version a draft was generated against; staleness is surfaced
// by callers, never hidden here.
type FactStore interface {
	// Fund returns a fund profile by id.
	Fund(ctx context.Context, id string) (*model.FundProfile, error)

	// LP returns an LP profile by id.
	LP(ctx context.Context, id string) (*model.LPProfile, error)

	// ListLPs returns all candidate LP profiles.
	ListLPs(ctx context.Context) ([]model.LPProfile, error)

	// Commitment looks up a verified commitment by LP name and fund name.
	// Returns ErrNotFound when no matching record exists; the caller
	// treats an absent record as an unverifiable claim, not an error.
	Commitment(ctx context.Context, lpName, fundName string) (*model.Commitment, error)
}
