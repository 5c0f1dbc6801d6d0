package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/agent"
	anthropicpkg "github.com/aura-supply/recon-cli/pkg/anthropic"
)

var askCmd = &cobra.Command{
	Use:   "ask <part-id> <question...>",
	Short: "Ask a stock question and get a gated natural-language answer",
	Long:  "Runs the safety gate for the part, then phrases the verdict as an answer to the question via the Anthropic API. Requires RECON_ANTHROPIC_KEY.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ask"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		question := strings.Join(args[1:], " ")
		gate := agent.NewGate(st, cfg.Thresholds)
		verdict, err := gate.Evaluate(ctx, args[0], question)
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}

		zap.L().Info("gate verdict",
			zap.String("part_id", args[0]),
			zap.String("status", string(verdict.Status)),
		)

		advisor := agent.NewAdvisor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
		answer, err := advisor.Answer(ctx, question, verdict)
		if err != nil {
			return eris.Wrap(err, "advisor")
		}

		fmt.Println(answer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
