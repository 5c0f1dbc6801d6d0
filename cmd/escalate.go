package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/aura-supply/recon-cli/internal/model"
)

var escalateRunID string

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Re-send flagged facts to the escalation targets",
	Long:  "Collects open facts flagged manual_review or urgent and delivers them to the review board, procurement cases, and webhook again. Useful after fixing credentials or adding a target.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		escalator, err := newEscalator()
		if err != nil {
			return err
		}
		if escalator == nil {
			return eris.New("no escalation targets configured (notion token, salesforce client ID, or escalation webhook)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// Findings are attributed to a run: the one named, or the latest.
		var run *model.PipelineRun
		if escalateRunID != "" {
			run, err = st.GetRun(ctx, escalateRunID)
			if err != nil {
				return eris.Wrapf(err, "load run %s", escalateRunID)
			}
		} else {
			runs, err := st.ListRuns(ctx, model.RunFilter{Limit: 1})
			if err != nil {
				return eris.Wrap(err, "list runs")
			}
			if len(runs) == 0 {
				return eris.New("no pipeline runs recorded; run `recon-cli run` first")
			}
			run = &runs[0]
		}

		reviews, err := st.ListOpenFacts(ctx, model.FactFilter{Urgency: model.UrgencyManualReview})
		if err != nil {
			return eris.Wrap(err, "list manual-review facts")
		}
		urgent, err := st.ListOpenFacts(ctx, model.FactFilter{Urgency: model.UrgencyUrgent})
		if err != nil {
			return eris.Wrap(err, "list urgent facts")
		}

		facts := append(reviews, urgent...)
		if len(facts) == 0 {
			fmt.Println("Nothing to escalate: no open facts are flagged.")
			return nil
		}

		if err := escalator.Escalate(ctx, run, facts); err != nil {
			return err
		}

		fmt.Printf("Escalated %d fact(s) from run %s: %d for review, %d urgent.\n",
			len(facts), run.ID, len(reviews), len(urgent))
		return nil
	},
}

func init() {
	escalateCmd.Flags().StringVar(&escalateRunID, "run", "", "attribute findings to this run ID (default: latest run)")
	rootCmd.AddCommand(escalateCmd)
}
