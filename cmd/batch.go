package main

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/pitch"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
)

var (
	batchFundID      string
	batchTop         int
	batchType        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Pre-generate pitches for a fund's top-ranked matches",
	Long:  "Ranks the LP universe for a fund and synthesizes an artifact for each of the top matches. Intended for a nightly run so morning outreach starts from reviewed drafts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		typ := model.ArtifactType(batchType)
		if len(typ.RequiredSections()) == 0 {
			return eris.Errorf("unknown artifact type: %s", batchType)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fund, err := env.Facts.Fund(ctx, batchFundID)
		if err != nil {
			return eris.Wrap(err, "load fund")
		}

		weights, err := env.Learner.WeightsFor(ctx, fund.OrgID, scoring.DefaultWeights(cfg.Scoring))
		if err != nil {
			return eris.Wrap(err, "resolve weights")
		}

		page, err := env.Ranker.Rank(ctx, batchFundID, weights, scoring.RankFilter{}, "", batchTop)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		return pregenBatch(ctx, page.Matches, batchConcurrency, func(ctx context.Context, m scoring.RankedMatch) (*model.FinalArtifact, error) {
			return env.Synth.Synthesize(ctx, pitch.SynthesizeRequest{
				MatchID:      m.Score.ID,
				OrgID:        fund.OrgID,
				Fund:         fund,
				LP:           &m.LP,
				Type:         typ,
				MatchFactors: m.Score.Factors,
				Stale:        m.Score.Stale,
			})
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFundID, "fund", "", "fund ID to pre-generate for (required)")
	batchCmd.Flags().IntVar(&batchTop, "top", 10, "number of top matches to pre-generate")
	batchCmd.Flags().StringVar(&batchType, "type", "email", "artifact type to pre-generate")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 3, "max concurrent synthesizer runs")
	_ = batchCmd.MarkFlagRequired("fund")
	rootCmd.AddCommand(batchCmd)
}

// synthFunc is the callback signature for synthesizing one ranked match.
type synthFunc func(ctx context.Context, m scoring.RankedMatch) (*model.FinalArtifact, error)

// pregenBatch synthesizes matches concurrently. Per-match failures are
// logged and counted rather than aborting the batch; a quota exhaustion
// stops the whole run since every remaining match would hit the same wall.
func pregenBatch(ctx context.Context, matches []scoring.RankedMatch, concurrency int, synth synthFunc) error {
	if len(matches) == 0 {
		zap.L().Info("no matches to pre-generate")
		return nil
	}

	zap.L().Info("pre-generating pitches",
		zap.Int("matches", len(matches)),
		zap.Int("concurrency", concurrency),
	)

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, m := range matches {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			art, err := synth(gctx, m)
			if err != nil {
				if quota.IsExceeded(err) {
					return err
				}
				failed.Add(1)
				zap.L().Error("pre-generation failed",
					zap.String("match", m.Score.ID),
					zap.String("lp", m.LP.Name),
					zap.Error(err),
				)
				return nil
			}
			succeeded.Add(1)
			zap.L().Info("pre-generated",
				zap.String("match", m.Score.ID),
				zap.String("lp", m.LP.Name),
				zap.String("tier", string(art.Tier)),
				zap.Bool("human_review", art.HumanReview),
			)
			return nil
		})
	}

	err := g.Wait()
	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return err
}
