package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

var (
	feedbackOrgID   string
	feedbackAction  string
	feedbackLPID    string
	feedbackReason  string
	feedbackPayload []string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a GP interaction signal for preference learning",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		action := model.InteractionAction(feedbackAction)
		switch action {
		case model.ActionShortlist, model.ActionDismiss, model.ActionEdit, model.ActionFeedback:
		default:
			return eris.Errorf("unknown action: %s", feedbackAction)
		}

		payload := make(map[string]any, len(feedbackPayload))
		for _, kv := range feedbackPayload {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return eris.Errorf("payload entry %q is not key=value", kv)
			}
			payload[k] = v
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		it := model.Interaction{
			OrgID:   feedbackOrgID,
			Action:  action,
			LPID:    feedbackLPID,
			Reason:  feedbackReason,
			Payload: payload,
		}
		if feedbackLPID != "" {
			if lp, err := env.Facts.LP(ctx, feedbackLPID); err == nil {
				it.LPType = lp.Type
			}
		}

		if err := env.Learner.Record(ctx, it); err != nil {
			return eris.Wrap(err, "record interaction")
		}

		zap.L().Info("interaction recorded",
			zap.String("org", feedbackOrgID),
			zap.String("action", feedbackAction),
			zap.String("lp", feedbackLPID),
		)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackOrgID, "org", "", "organization ID (required)")
	feedbackCmd.Flags().StringVar(&feedbackAction, "action", "", "shortlist, dismiss, edit, or feedback (required)")
	feedbackCmd.Flags().StringVar(&feedbackLPID, "lp", "", "LP the signal is about")
	feedbackCmd.Flags().StringVar(&feedbackReason, "reason", "", "free-form reason")
	feedbackCmd.Flags().StringSliceVar(&feedbackPayload, "set", nil, "payload entries as key=value (e.g. tone=formal)")
	_ = feedbackCmd.MarkFlagRequired("org")
	_ = feedbackCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(feedbackCmd)
}
