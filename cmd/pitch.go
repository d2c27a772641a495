package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/pitch"
)

var (
	pitchMatchID string
	pitchType    string
	pitchTone    string
	pitchDetail  string
)

var pitchCmd = &cobra.Command{
	Use:   "pitch",
	Short: "Generate and quality-check one pitch artifact for a match",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		typ := model.ArtifactType(pitchType)
		if len(typ.RequiredSections()) == 0 {
			return eris.Errorf("unknown artifact type: %s", pitchType)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		score, err := env.Store.MatchScore(ctx, pitchMatchID)
		if err != nil {
			return eris.Wrap(err, "load match score")
		}
		if score.InsufficientData {
			return eris.Errorf("match %s has insufficient data for pitch generation", pitchMatchID)
		}

		fund, err := env.Facts.Fund(ctx, score.FundID)
		if err != nil {
			return eris.Wrap(err, "load fund")
		}
		lp, err := env.Facts.LP(ctx, score.LPID)
		if err != nil {
			return eris.Wrap(err, "load lp")
		}

		tone := pitchTone
		if tone == "" {
			if prefs, err := env.Learner.Active(ctx, fund.OrgID); err == nil {
				for _, p := range prefs {
					if p.Kind == model.PrefTone {
						tone = p.Value
						break
					}
				}
			}
		}

		art, err := env.Synth.Synthesize(ctx, pitch.SynthesizeRequest{
			MatchID:      pitchMatchID,
			OrgID:        fund.OrgID,
			Fund:         fund,
			LP:           lp,
			Type:         typ,
			Tone:         tone,
			DetailLevel:  pitchDetail,
			MatchFactors: score.Factors,
			Stale:        score.Stale,
		})
		if err != nil {
			return eris.Wrap(err, "synthesize")
		}

		zap.L().Info("pitch complete",
			zap.String("match", pitchMatchID),
			zap.String("type", pitchType),
			zap.String("tier", string(art.Tier)),
			zap.Int("attempts", len(art.AttemptIDs)),
			zap.Bool("human_review", art.HumanReview),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(art)
	},
}

func init() {
	pitchCmd.Flags().StringVar(&pitchMatchID, "match", "", "match score ID (required)")
	pitchCmd.Flags().StringVar(&pitchType, "type", "email", "artifact type: email, summary, or cover_letter")
	pitchCmd.Flags().StringVar(&pitchTone, "tone", "", "tone override (default: learned preference or LP-type register)")
	pitchCmd.Flags().StringVar(&pitchDetail, "detail", "", "detail level hint")
	_ = pitchCmd.MarkFlagRequired("match")
	rootCmd.AddCommand(pitchCmd)
}
