package factstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the fact store uses.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements FactStore over the platform's shared database.
type Postgres struct {
	pool Pool
}

// NewPostgres creates a Postgres-backed fact store.
func NewPostgres(pool Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Fund(ctx context.Context, id string) (*model.FundProfile, error) {
	const query = `
SELECT id, org_id, name, version,
       COALESCE(strategy_tags, '{}'),
       COALESCE(geography_tags, '{}'),
       COALESCE(sector_tags, '{}'),
       COALESCE(check_min, 0), COALESCE(check_max, 0),
       COALESCE(esg, ''), COALESCE(thesis, ''),
       COALESCE(track_record, '[]'),
       updated_at
FROM funds
WHERE id = $1
ORDER BY version DESC
LIMIT 1`

	var f model.FundProfile
	var trackJSON []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.OrgID, &f.Name, &f.Version,
		&f.StrategyTags, &f.GeographyTags, &f.SectorTags,
		&f.CheckSize.Min, &f.CheckSize.Max,
		&f.ESG, &f.Thesis, &trackJSON, &f.UpdatedAt,
	)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "factstore: query fund %s", id)
	}
	if err := json.Unmarshal(trackJSON, &f.TrackRecord); err != nil {
		return nil, eris.Wrapf(err, "factstore: decode track record for fund %s", id)
	}
	return &f, nil
}

func (p *Postgres) LP(ctx context.Context, id string) (*model.LPProfile, error) {
	const query = lpSelect + ` WHERE id = $1`

	row := p.pool.QueryRow(ctx, query, id)
	lp, err := scanLP(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "factstore: query lp %s", id)
	}
	return lp, nil
}

func (p *Postgres) ListLPs(ctx context.Context) ([]model.LPProfile, error) {
	rows, err := p.pool.Query(ctx, lpSelect+` ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "factstore: list lps")
	}
	defer rows.Close()

	var out []model.LPProfile
	for rows.Next() {
		lp, scanErr := scanLP(rows)
		if scanErr != nil {
			return nil, eris.Wrap(scanErr, "factstore: scan lp")
		}
		out = append(out, *lp)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "factstore: iterate lps")
	}
	return out, nil
}

func (p *Postgres) Commitment(ctx context.Context, lpName, fundName string) (*model.Commitment, error) {
	const query = `
SELECT c.id, c.lp_id, c.fund_name, c.amount_usd, c.committed_at
FROM commitments c
JOIN lps ON lps.id = c.lp_id
WHERE lower(lps.name) = lower($1) AND lower(c.fund_name) = lower($2)
LIMIT 1`

	var c model.Commitment
	err := p.pool.QueryRow(ctx, query, lpName, fundName).Scan(
		&c.ID, &c.LPID, &c.FundName, &c.AmountUSD, &c.Date,
	)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "factstore: query commitment")
	}
	return &c, nil
}

const lpSelect = `
SELECT id, name, type,
       COALESCE(mandate, ''),
       COALESCE(strategy_tags, '{}'),
       COALESCE(geography_tags, '{}'),
       COALESCE(sector_tags, '{}'),
       COALESCE(check_min, 0), COALESCE(check_max, 0),
       COALESCE(aum, 0), COALESCE(esg, ''),
       contact_name, contact_email,
       last_updated
FROM lps`

// scanLP scans one LP row from either a Row or Rows.
func scanLP(row pgx.Row) (*model.LPProfile, error) {
	var lp model.LPProfile
	var contactName, contactEmail *string
	err := row.Scan(
		&lp.ID, &lp.Name, &lp.Type, &lp.Mandate,
		&lp.StrategyTags, &lp.GeographyTags, &lp.SectorTags,
		&lp.CheckSize.Min, &lp.CheckSize.Max,
		&lp.AUM, &lp.ESG,
		&contactName, &contactEmail,
		&lp.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if contactName != nil && *contactName != "" {
		lp.Contact = &model.Contact{Name: *contactName}
		if contactEmail != nil {
			lp.Contact.Email = *contactEmail
		}
	}
	return &lp, nil
}
