package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS match_scores (
	id                TEXT PRIMARY KEY,
	fund_id           TEXT NOT NULL,
	fund_version      INTEGER NOT NULL,
	lp_id             TEXT NOT NULL,
	overall           INTEGER NOT NULL,
	factors           TEXT NOT NULL,
	insufficient_data INTEGER NOT NULL DEFAULT 0,
	stale             INTEGER NOT NULL DEFAULT 0,
	computed_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id      TEXT PRIMARY KEY,
	org_id  TEXT NOT NULL,
	action  TEXT NOT NULL,
	lp_id   TEXT,
	lp_type TEXT,
	reason  TEXT,
	payload TEXT,
	at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences (
	org_id         TEXT NOT NULL,
	kind           TEXT NOT NULL,
	key            TEXT NOT NULL,
	value          TEXT NOT NULL,
	confidence     REAL NOT NULL,
	sample_size    INTEGER NOT NULL,
	mixed          INTEGER NOT NULL DEFAULT 0,
	last_confirmed DATETIME NOT NULL,
	PRIMARY KEY (org_id, kind, key)
);

CREATE TABLE IF NOT EXISTS drafts (
	id           TEXT PRIMARY KEY,
	match_id     TEXT NOT NULL,
	type         TEXT NOT NULL,
	sections     TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	tone         TEXT,
	limited_data INTEGER NOT NULL DEFAULT 0,
	missing_data TEXT,
	inputs       TEXT,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS critiques (
	draft_id        TEXT NOT NULL,
	accuracy        REAL NOT NULL,
	personalization REAL NOT NULL,
	tone            REAL NOT NULL,
	structure       REAL NOT NULL,
	overall         REAL NOT NULL,
	issues          TEXT,
	recommendation  TEXT NOT NULL,
	critiqued_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	match_id     TEXT NOT NULL,
	type         TEXT NOT NULL,
	draft        TEXT NOT NULL,
	tier         TEXT NOT NULL,
	suggestions  TEXT,
	attempt_ids  TEXT,
	human_review INTEGER NOT NULL DEFAULT 0,
	warnings     TEXT,
	produced_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_scores_fund ON match_scores(fund_id, computed_at DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_org ON interactions(org_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_drafts_match ON drafts(match_id, attempt);
CREATE INDEX IF NOT EXISTS idx_critiques_draft ON critiques(draft_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_match ON artifacts(match_id, produced_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendMatchScore(ctx context.Context, score model.MatchScore) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_scores (id, fund_id, fund_version, lp_id, overall, factors, insufficient_data, stale, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.ID, score.FundID, score.FundVersion, score.LPID, score.Overall,
		string(factors), score.InsufficientData, score.Stale, score.ComputedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert match score")
}

const matchScoreSelect = `SELECT id, fund_id, fund_version, lp_id, overall, factors, insufficient_data, stale, computed_at FROM match_scores`

func (s *SQLiteStore) MatchScore(ctx context.Context, id string) (*model.MatchScore, error) {
	row := s.db.QueryRowContext(ctx, matchScoreSelect+` WHERE id = ?`, id)
	return scanMatchScore(row)
}

func (s *SQLiteStore) LatestMatchScores(ctx context.Context, fundID string, limit int) ([]model.MatchScore, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		matchScoreSelect+` WHERE fund_id = ? ORDER BY computed_at DESC LIMIT ?`,
		fundID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query match scores")
	}
	defer rows.Close()

	var out []model.MatchScore
	for rows.Next() {
		score, err := scanMatchScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *score)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate match scores")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatchScore(row rowScanner) (*model.MatchScore, error) {
	var (
		score      model.MatchScore
		factors    string
		computedAt time.Time
	)
	err := row.Scan(&score.ID, &score.FundID, &score.FundVersion, &score.LPID,
		&score.Overall, &factors, &score.InsufficientData, &score.Stale, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan match score")
	}
	if err := json.Unmarshal([]byte(factors), &score.Factors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal factors")
	}
	score.ComputedAt = computedAt
	return &score, nil
}

func (s *SQLiteStore) AppendInteraction(ctx context.Context, it model.Interaction) error {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, org_id, action, lp_id, lp_type, reason, payload, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.OrgID, string(it.Action), it.LPID, string(it.LPType), it.Reason,
		string(payload), it.At.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert interaction")
}

func (s *SQLiteStore) RecentInteractions(ctx context.Context, orgID string, limit int) ([]model.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, action, lp_id, lp_type, reason, payload, at
		 FROM interactions WHERE org_id = ? ORDER BY at DESC LIMIT ?`,
		orgID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query interactions")
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		var (
			it      model.Interaction
			action  string
			lpType  string
			payload string
			at      time.Time
		)
		if err := rows.Scan(&it.ID, &it.OrgID, &action, &it.LPID, &lpType, &it.Reason, &payload, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan interaction")
		}
		it.Action = model.InteractionAction(action)
		it.LPType = model.LPType(lpType)
		it.At = at
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &it.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal payload")
			}
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate interactions")
}

func (s *SQLiteStore) Preferences(ctx context.Context, orgID string) ([]model.LearnedPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, kind, key, value, confidence, sample_size, mixed, last_confirmed
		 FROM preferences WHERE org_id = ?`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query preferences")
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
			return nil, eris.Wrap(err, "sqlite: scan preference")
		}
		p.Kind = model.PreferenceKind(kind)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate preferences")
}

func (s *SQLiteStore) PutPreference(ctx context.Context, p model.LearnedPreference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (org_id, kind, key, value, confidence, sample_size, mixed, last_confirmed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, kind, key) DO UPDATE SET
		   value = excluded.value,
		   confidence = excluded.confidence,
		   sample_size = excluded.sample_size,
		   mixed = excluded.mixed,
		   last_confirmed = excluded.last_confirmed`,
		p.OrgID, string(p.Kind), p.Key, p.Value, p.Confidence, p.SampleSize,
		p.Mixed, p.LastConfirmed.UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert preference")
}

func (s *SQLiteStore) AppendDraft(ctx context.Context, d model.PitchDraft) error {
	sections, err := json.Marshal(d.Sections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sections")
	}
	missing, err := json.Marshal(d.MissingData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal missing data")
	}
	inputs, err := json.Marshal(d.Inputs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal inputs")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (id, match_id, type, sections, attempt, tone, limited_data, missing_data, inputs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MatchID, string(d.Type), string(sections), d.Attempt, d.Tone,
		d.LimitedData, string(missing), string(inputs), d.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert draft")
}

func (s *SQLiteStore) Drafts(ctx context.Context, matchID string) ([]model.PitchDraft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, type, sections, attempt, tone, limited_data, missing_data, inputs, created_at
		 FROM drafts WHERE match_id = ? ORDER BY attempt ASC, created_at ASC`,
		matchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query drafts")
	}
	defer rows.Close()

	var out []model.PitchDraft
	for rows.Next() {
		var (
			d        model.PitchDraft
			typ      string
			sections string
			missing  string
			inputs   string
		)
		if err := rows.Scan(&d.ID, &d.MatchID, &typ, &sections, &d.Attempt,
			&d.Tone, &d.LimitedData, &missing, &inputs, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan draft")
		}
		d.Type = model.ArtifactType(typ)
		if err := json.Unmarshal([]byte(sections), &d.Sections); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sections")
		}
		if missing != "" && missing != "null" {
			if err := json.Unmarshal([]byte(missing), &d.MissingData); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal missing data")
			}
		}
		if inputs != "" && inputs != "null" {
			if err := json.Unmarshal([]byte(inputs), &d.Inputs); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal inputs")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate drafts")
}

func (s *SQLiteStore) AppendCritique(ctx context.Context, c model.Critique) error {
	issues, err := json.Marshal(c.Issues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal issues")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO critiques (draft_id, accuracy, personalization, tone, structure, overall, issues, recommendation, critiqued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.DraftID, c.Accuracy, c.Personalization, c.Tone, c.Structure,
		c.Overall, string(issues), string(c.Recommendation), c.CritiquedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert critique")
}

func (s *SQLiteStore) Critiques(ctx context.Context, draftID string) ([]model.Critique, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT draft_id, accuracy, personalization, tone, structure, overall, issues, recommendation, critiqued_at
		 FROM critiques WHERE draft_id = ? ORDER BY critiqued_at ASC`,
		draftID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query critiques")
	}
	defer rows.Close()

	var out []model.Critique
	for rows.Next() {
		var (
			c      model.Critique
			issues string
			rec    string
		)
		if err := rows.Scan(&c.DraftID, &c.Accuracy, &c.Personalization, &c.Tone,
			&c.Structure, &c.Overall, &issues, &rec, &c.CritiquedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan critique")
		}
		c.Recommendation = model.Recommendation(rec)
		if issues != "" && issues != "null" {
			if err := json.Unmarshal([]byte(issues), &c.Issues); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal issues")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate critiques")
}

func (s *SQLiteStore) PutArtifact(ctx context.Context, a model.FinalArtifact) error {
	draft, err := json.Marshal(a.Draft)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact draft")
	}
	suggestions, err := json.Marshal(a.Suggestions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal suggestions")
	}
	attemptIDs, err := json.Marshal(a.AttemptIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attempt ids")
	}
	warnings, err := json.Marshal(a.Warnings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, match_id, type, draft, tier, suggestions, attempt_ids, human_review, warnings, produced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MatchID, string(a.Draft.Type), string(draft), string(a.Tier),
		string(suggestions), string(attemptIDs), a.HumanReview, string(warnings),
		a.ProducedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert artifact")
}

func (s *SQLiteStore) Artifact(ctx context.Context, id string) (*model.FinalArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, match_id, draft, tier, suggestions, attempt_ids, human_review, warnings, produced_at
		 FROM artifacts WHERE id = ?`,
		id,
	)

	var (
		a           model.FinalArtifact
		draft       string
		tier        string
		suggestions string
		attemptIDs  string
		warnings    string
	)
	err := row.Scan(&a.ID, &a.MatchID, &draft, &tier, &suggestions, &attemptIDs,
		&a.HumanReview, &warnings, &a.ProducedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan artifact")
	}
	a.Tier = model.QualityTier(tier)
	if err := json.Unmarshal([]byte(draft), &a.Draft); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifact draft")
	}
	if err := unmarshalColumn(suggestions, &a.Suggestions); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(attemptIDs, &a.AttemptIDs); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(warnings, &a.Warnings); err != nil {
		return nil, err
	}
	return &a, nil
}

// unmarshalColumn decodes a nullable JSON text column.
func unmarshalColumn(col string, dst any) error {
	if col == "" || col == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal([]byte(col), dst), "sqlite: unmarshal column")
}
