package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/aura-supply/recon-cli/internal/agent"
)

var queryCmd = &cobra.Command{
	Use:   "query <part-id> [question]",
	Short: "Ask the safety gate whether an agent may act on a part",
	Long:  "Evaluates the safety checks for a part's open fact and prints the structured verdict. The question is carried into the verdict for context; the gate never parses it.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		gate := agent.NewGate(st, cfg.Thresholds)
		verdict, err := gate.Evaluate(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(verdict)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
