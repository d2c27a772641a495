package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
)

var (
	matchFundID   string
	matchMinScore int
	matchLPTypes  []string
	matchCursor   string
	matchPageSize int
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Rank the LP universe against a fund",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fund, err := env.Facts.Fund(ctx, matchFundID)
		if err != nil {
			return eris.Wrap(err, "load fund")
		}

		weights, err := env.Learner.WeightsFor(ctx, fund.OrgID, scoring.DefaultWeights(cfg.Scoring))
		if err != nil {
			return eris.Wrap(err, "resolve weights")
		}

		filter := scoring.RankFilter{MinScore: matchMinScore}
		for _, t := range matchLPTypes {
			filter.LPTypes = append(filter.LPTypes, model.LPType(t))
		}

		page, err := env.Ranker.Rank(ctx, matchFundID, weights, filter, matchCursor, matchPageSize)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		zap.L().Info("ranking complete",
			zap.String("fund", matchFundID),
			zap.Int("matches", len(page.Matches)),
			zap.Int("insufficient_data", page.InsufficientData),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchFundID, "fund", "", "fund ID to rank against (required)")
	matchCmd.Flags().IntVar(&matchMinScore, "min-score", 0, "drop matches below this overall score")
	matchCmd.Flags().StringSliceVar(&matchLPTypes, "lp-type", nil, "restrict to LP types (repeatable)")
	matchCmd.Flags().StringVar(&matchCursor, "cursor", "", "resume cursor from a previous page")
	matchCmd.Flags().IntVar(&matchPageSize, "page-size", 0, "page size (0 = configured default)")
	_ = matchCmd.MarkFlagRequired("fund")
	rootCmd.AddCommand(matchCmd)
}
