package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Kept narrow so tests
// can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS match_scores (
	id                TEXT PRIMARY KEY,
	fund_id           TEXT NOT NULL,
	fund_version      INTEGER NOT NULL,
	lp_id             TEXT NOT NULL,
	overall           INTEGER NOT NULL,
	factors           JSONB NOT NULL,
	insufficient_data BOOLEAN NOT NULL DEFAULT false,
	stale             BOOLEAN NOT NULL DEFAULT false,
	computed_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id      TEXT PRIMARY KEY,
	org_id  TEXT NOT NULL,
	action  TEXT NOT NULL,
	lp_id   TEXT,
	lp_type TEXT,
	reason  TEXT,
	payload JSONB,
	at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences (
	org_id         TEXT NOT NULL,
	kind           TEXT NOT NULL,
	key            TEXT NOT NULL,
	value          TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	sample_size    INTEGER NOT NULL,
	mixed          BOOLEAN NOT NULL DEFAULT false,
	last_confirmed TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (org_id, kind, key)
);

CREATE TABLE IF NOT EXISTS drafts (
	id           TEXT PRIMARY KEY,
	match_id     TEXT NOT NULL,
	type         TEXT NOT NULL,
	sections     JSONB NOT NULL,
	attempt      INTEGER NOT NULL,
	tone         TEXT,
	limited_data BOOLEAN NOT NULL DEFAULT false,
	missing_data JSONB,
	inputs       JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS critiques (
	draft_id        TEXT NOT NULL,
	accuracy        DOUBLE PRECISION NOT NULL,
	personalization DOUBLE PRECISION NOT NULL,
	tone            DOUBLE PRECISION NOT NULL,
	structure       DOUBLE PRECISION NOT NULL,
	overall         DOUBLE PRECISION NOT NULL,
	issues          JSONB,
	recommendation  TEXT NOT NULL,
	critiqued_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	match_id     TEXT NOT NULL,
	type         TEXT NOT NULL,
	draft        JSONB NOT NULL,
	tier         TEXT NOT NULL,
	suggestions  JSONB,
	attempt_ids  JSONB,
	human_review BOOLEAN NOT NULL DEFAULT false,
	warnings     JSONB,
	produced_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_scores_fund ON match_scores(fund_id, computed_at DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_org ON interactions(org_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_drafts_match ON drafts(match_id, attempt);
CREATE INDEX IF NOT EXISTS idx_critiques_draft ON critiques(draft_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_match ON artifacts(match_id, produced_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendMatchScore(ctx context.Context, score model.MatchScore) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factors")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO match_scores (id, fund_id, fund_version, lp_id, overall, factors, insufficient_data, stale, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		score.ID, score.FundID, score.FundVersion, score.LPID, score.Overall,
		factors, score.InsufficientData, score.Stale, score.ComputedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert match score")
}

const pgMatchScoreSelect = `SELECT id, fund_id, fund_version, lp_id, overall, factors, insufficient_data, stale, computed_at FROM match_scores`

func (s *PostgresStore) MatchScore(ctx context.Context, id string) (*model.MatchScore, error) {
	row := s.pool.QueryRow(ctx, pgMatchScoreSelect+` WHERE id = $1`, id)
	return scanPGMatchScore(row)
}

func (s *PostgresStore) LatestMatchScores(ctx context.Context, fundID string, limit int) ([]model.MatchScore, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		pgMatchScoreSelect+` WHERE fund_id = $1 ORDER BY computed_at DESC LIMIT $2`,
		fundID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query match scores")
	}
	defer rows.Close()

	var out []model.MatchScore
	for rows.Next() {
		score, err := scanPGMatchScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *score)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate match scores")
}

func scanPGMatchScore(row pgx.Row) (*model.MatchScore, error) {
	var (
		score   model.MatchScore
		factors []byte
	)
	err := row.Scan(&score.ID, &score.FundID, &score.FundVersion, &score.LPID,
		&score.Overall, &factors, &score.InsufficientData, &score.Stale, &score.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan match score")
	}
	if err := json.Unmarshal(factors, &score.Factors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal factors")
	}
	return &score, nil
}

func (s *PostgresStore) AppendInteraction(ctx context.Context, it model.Interaction) error {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interactions (id, org_id, action, lp_id, lp_type, reason, payload, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		it.ID, it.OrgID, string(it.Action), it.LPID, string(it.LPType), it.Reason,
		payload, it.At.UTC(),
	)
	return eris.Wrap(err, "postgres: insert interaction")
}

func (s *PostgresStore) RecentInteractions(ctx context.Context, orgID string, limit int) ([]model.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, action, lp_id, lp_type, reason, payload, at
		 FROM interactions WHERE org_id = $1 ORDER BY at DESC LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query interactions")
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		var (
			it      model.Interaction
			action  string
			lpType  string
			payload []byte
		)
		if err := rows.Scan(&it.ID, &it.OrgID, &action, &it.LPID, &lpType, &it.Reason, &payload, &it.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan interaction")
		}
		it.Action = model.InteractionAction(action)
		it.LPType = model.LPType(lpType)
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &it.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal payload")
			}
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate interactions")
}

func (s *PostgresStore) Preferences(ctx context.Context, orgID string) ([]model.LearnedPreference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT org_id, kind, key, value, confidence, sample_size, mixed, last_confirmed
		 FROM preferences WHERE org_id = $1`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query preferences")
	}
	defer rows.Close()

	var out []model.LearnedPreference
	for rows.Next() {
		var (
			p    model.LearnedPreference
			kind string
		)
		if err := rows.Scan(&p.OrgID, &kind, &p.Key, &p.Value, &p.Confidence,
			&p.SampleSize, &p.Mixed, &p.LastConfirmed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan preference")
		}
		p.Kind = model.PreferenceKind(kind)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate preferences")
}

func (s *PostgresStore) PutPreference(ctx context.Context, p model.LearnedPreference) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preferences (org_id, kind, key, value, confidence, sample_size, mixed, last_confirmed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (org_id, kind, key) DO UPDATE SET
		   value = excluded.value,
		   confidence = excluded.confidence,
		   sample_size = excluded.sample_size,
		   mixed = excluded.mixed,
		   last_confirmed = excluded.last_confirmed`,
		p.OrgID, string(p.Kind), p.Key, p.Value, p.Confidence, p.SampleSize,
		p.Mixed, p.LastConfirmed.UTC(),
	)
	return eris.Wrap(err, "postgres: upsert preference")
}

func (s *PostgresStore) AppendDraft(ctx context.Context, d model.PitchDraft) error {
	sections, err := json.Marshal(d.Sections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sections")
	}
	missing, err := json.Marshal(d.MissingData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal missing data")
	}
	inputs, err := json.Marshal(d.Inputs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal inputs")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO drafts (id, match_id, type, sections, attempt, tone, limited_data, missing_data, inputs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.MatchID, string(d.Type), sections, d.Attempt, d.Tone,
		d.LimitedData, missing, inputs, d.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert draft")
}

func (s *PostgresStore) Drafts(ctx context.Context, matchID string) ([]model.PitchDraft, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, match_id, type, sections, attempt, tone, limited_data, missing_data, inputs, created_at
		 FROM drafts WHERE match_id = $1 ORDER BY attempt ASC, created_at ASC`,
		matchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query drafts")
	}
	defer rows.Close()

	var out []model.PitchDraft
	for rows.Next() {
		var (
			d        model.PitchDraft
			typ      string
			sections []byte
			missing  []byte
			inputs   []byte
		)
		if err := rows.Scan(&d.ID, &d.MatchID, &typ, &sections, &d.Attempt,
			&d.Tone, &d.LimitedData, &missing, &inputs, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan draft")
		}
		d.Type = model.ArtifactType(typ)
		if err := json.Unmarshal(sections, &d.Sections); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sections")
		}
		if len(missing) > 0 && string(missing) != "null" {
			if err := json.Unmarshal(missing, &d.MissingData); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal missing data")
			}
		}
		if len(inputs) > 0 && string(inputs) != "null" {
			if err := json.Unmarshal(inputs, &d.Inputs); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal inputs")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate drafts")
}

func (s *PostgresStore) AppendCritique(ctx context.Context, c model.Critique) error {
	issues, err := json.Marshal(c.Issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal issues")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO critiques (draft_id, accuracy, personalization, tone, structure, overall, issues, recommendation, critiqued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.DraftID, c.Accuracy, c.Personalization, c.Tone, c.Structure,
		c.Overall, issues, string(c.Recommendation), c.CritiquedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert critique")
}

func (s *PostgresStore) Critiques(ctx context.Context, draftID string) ([]model.Critique, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT draft_id, accuracy, personalization, tone, structure, overall, issues, recommendation, critiqued_at
		 FROM critiques WHERE draft_id = $1 ORDER BY critiqued_at ASC`,
		draftID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query critiques")
	}
	defer rows.Close()

	var out []model.Critique
	for rows.Next() {
		var (
			c      model.Critique
			issues []byte
			rec    string
		)
		if err := rows.Scan(&c.DraftID, &c.Accuracy, &c.Personalization, &c.Tone,
			&c.Structure, &c.Overall, &issues, &rec, &c.CritiquedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan critique")
		}
		c.Recommendation = model.Recommendation(rec)
		if len(issues) > 0 && string(issues) != "null" {
			if err := json.Unmarshal(issues, &c.Issues); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal issues")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate critiques")
}

func (s *PostgresStore) PutArtifact(ctx context.Context, a model.FinalArtifact) error {
	draft, err := json.Marshal(a.Draft)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifact draft")
	}
	suggestions, err := json.Marshal(a.Suggestions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal suggestions")
	}
	attemptIDs, err := json.Marshal(a.AttemptIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attempt ids")
	}
	warnings, err := json.Marshal(a.Warnings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, match_id, type, draft, tier, suggestions, attempt_ids, human_review, warnings, produced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.MatchID, string(a.Draft.Type), draft, string(a.Tier),
		suggestions, attemptIDs, a.HumanReview, warnings, a.ProducedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert artifact")
}

func (s *PostgresStore) Artifact(ctx context.Context, id string) (*model.FinalArtifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, match_id, draft, tier, suggestions, attempt_ids, human_review, warnings, produced_at
		 FROM artifacts WHERE id = $1`,
		id,
	)

	var (
		a           model.FinalArtifact
		draft       []byte
		tier        string
		suggestions []byte
		attemptIDs  []byte
		warnings    []byte
	)
	err := row.Scan(&a.ID, &a.MatchID, &draft, &tier, &suggestions, &attemptIDs,
		&a.HumanReview, &warnings, &a.ProducedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan artifact")
	}
	a.Tier = model.QualityTier(tier)
	if err := json.Unmarshal(draft, &a.Draft); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifact draft")
	}
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{suggestions, &a.Suggestions},
		{attemptIDs, &a.AttemptIDs},
		{warnings, &a.Warnings},
	} {
		if len(col.raw) == 0 || string(col.raw) == "null" {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal artifact field")
		}
	}
	return &a, nil
}
