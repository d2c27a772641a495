package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/pitch"
	"github.com/meridian-group/lpmatch-cli/internal/preference"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
	"github.com/meridian-group/lpmatch-cli/internal/store"
	anthropicpkg "github.com/meridian-group/lpmatch-cli/pkg/anthropic"
	"github.com/meridian-group/lpmatch-cli/pkg/jina"
)

// factsFile points Memory-backed commands at a local facts JSON document.
// When empty, the fact store shares the configured Postgres database.
var factsFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&factsFile, "facts", "", "path to a facts JSON file (funds, LPs, commitments) for local runs")
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "lpmatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFacts(ctx context.Context) (factstore.FactStore, func(), error) {
	if factsFile != "" {
		m, err := factstore.LoadFile(factsFile)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	}

	if cfg.Store.Driver != "postgres" {
		return nil, nil, eris.New("fact store requires --facts or store.driver=postgres")
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "connect fact store")
	}
	return factstore.NewPostgres(pool), pool.Close, nil
}

// pipelineEnv holds the initialized store, fact store, and pipeline
// components shared by the match/pitch/batch/serve commands.
type pipelineEnv struct {
	Store   store.Store
	Facts   factstore.FactStore
	Ranker  *scoring.Ranker
	Synth   *pitch.Synthesizer
	Learner *preference.Learner
	Quotas  *quota.Registry

	closeFacts func()
}

// Close releases resources held by the environment.
func (e *pipelineEnv) Close() {
	if e.closeFacts != nil {
		e.closeFacts()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, fact store, API clients, and pipeline
// components. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	facts, closeFacts, err := initFacts(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithModel(cfg.Jina.Model),
	)

	quotas := quota.NewRegistry(cfg.Quota)

	engine := scoring.NewEngine(cfg.Scoring, jinaClient, st)
	ranker := scoring.NewRanker(engine, facts)

	gen := pitch.NewGenerator(anthropicClient, quotas, cfg.Anthropic)
	critic := pitch.NewCritic(anthropicClient, facts, quotas, cfg.Anthropic, cfg.Pitch)
	synth := pitch.NewSynthesizer(gen, critic, cfg.Pitch, st)

	learner := preference.NewLearner(cfg.Preference, st)

	zap.L().Debug("pipeline environment initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("facts_from_file", factsFile != ""),
	)

	return &pipelineEnv{
		Store:      st,
		Facts:      facts,
		Ranker:     ranker,
		Synth:      synth,
		Learner:    learner,
		Quotas:     quotas,
		closeFacts: closeFacts,
	}, nil
}
