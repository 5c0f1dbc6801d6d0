package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/store"
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect reconciled inventory facts",
	Long:  "Commands for listing open facts, showing one part in full, and walking a part's fact history.",
}

// -- facts list --

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open inventory facts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lowStock, _ := cmd.Flags().GetInt("low-stock")
		warnings, _ := cmd.Flags().GetBool("warnings")
		urgency, _ := cmd.Flags().GetString("urgency")
		confidence, _ := cmd.Flags().GetString("confidence")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.FactFilter{
			OnlyFlagged: warnings,
			Urgency:     model.ReorderUrgency(urgency),
			Confidence:  model.ConfidenceLevel(confidence),
			Limit:       limit,
		}
		// --low-stock 0 would match nothing, so only a set flag filters.
		if cmd.Flags().Changed("low-stock") {
			filter.LowStockBelow = &lowStock
		}

		facts, err := st.ListOpenFacts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "facts list")
		}

		if len(facts) == 0 {
			fmt.Fprintln(os.Stderr, "No facts found.")
			return nil
		}

		formatFactsList(os.Stdout, facts)
		return nil
	},
}

// -- facts show --

var factsShowCmd = &cobra.Command{
	Use:   "show <part-id>",
	Short: "Show a part's open fact in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		fact, err := st.GetOpenFact(ctx, args[0])
		if err != nil {
			if errors.Is(err, store.ErrFactNotFound) {
				fmt.Fprintf(os.Stderr, "No open fact for part %s. Has a reconciliation run ingested it?\n", args[0])
				return nil
			}
			return eris.Wrap(err, "facts show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fact)
	},
}

// -- facts history --

var factsHistoryCmd = &cobra.Command{
	Use:   "history <part-id>",
	Short: "Show a part's fact versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		facts, err := st.ListFactHistory(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "facts history")
		}

		if len(facts) == 0 {
			fmt.Fprintf(os.Stderr, "No fact history for part %s.\n", args[0])
			return nil
		}

		formatFactHistory(os.Stdout, facts)
		return nil
	},
}

func init() {
	factsListCmd.Flags().Int("low-stock", 0, "only parts with effective inventory below this level")
	factsListCmd.Flags().Bool("warnings", false, "only parts with data inconsistencies")
	factsListCmd.Flags().String("urgency", "", "filter by reorder urgency (none, recommended, urgent, manual_review)")
	factsListCmd.Flags().String("confidence", "", "filter by confidence level (high, medium, low)")
	factsListCmd.Flags().Int("limit", 100, "max number of facts to display")

	factsHistoryCmd.Flags().Int("limit", 20, "max number of versions to display")

	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsShowCmd)
	factsCmd.AddCommand(factsHistoryCmd)
	rootCmd.AddCommand(factsCmd)
}

// formatFactsList writes a tabular view of open facts to out.
func formatFactsList(out io.Writer, facts []model.UnifiedInventoryFact) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PART\tNAME\tEFFECTIVE\tSHELF\tTRANSIT\tSHADOW\tRELIABILITY\tCONFIDENCE\tURGENCY\tVALUE_ZAR")
	_, _ = fmt.Fprintln(w, "----\t----\t---------\t-----\t-------\t------\t-----------\t----------\t-------\t---------")

	for _, f := range facts {
		name := f.PartName
		if len(name) > 28 {
			name = name[:25] + "..."
		}

		flag := ""
		if f.HasInconsistency {
			flag = " !"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s%s\t%d\t%d\t%d\t%.2f\t%s\t%s\t%s\n",
			f.PartID,
			name,
			p.Sprintf("%d", f.EffectiveInventory),
			flag,
			f.QtyOnShelf,
			f.InTransitQty,
			f.ShadowStockQty,
			f.DataReliabilityIndex,
			f.ConfidenceLevel,
			f.Reorder.Urgency,
			p.Sprintf("%.2f", f.StockValueZAR()),
		)
	}
	_ = w.Flush()
}

// formatFactHistory writes a part's fact versions to out.
func formatFactHistory(out io.Writer, facts []model.UnifiedInventoryFact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VALID_FROM\tVALID_TO\tEFFECTIVE\tSHELF\tTRANSIT\tSHADOW\tRELIABILITY\tCONFIDENCE\tURGENCY")
	_, _ = fmt.Fprintln(w, "----------\t--------\t---------\t-----\t-------\t------\t-----------\t----------\t-------")

	for _, f := range facts {
		validTo := "open"
		if f.FactValidTo != nil {
			validTo = f.FactValidTo.Format("2006-01-02 15:04")
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\t%s\t%s\n",
			f.FactValidFrom.Format("2006-01-02 15:04"),
			validTo,
			f.EffectiveInventory,
			f.QtyOnShelf,
			f.InTransitQty,
			f.ShadowStockQty,
			f.DataReliabilityIndex,
			f.ConfidenceLevel,
			f.Reorder.Urgency,
		)
	}
	_ = w.Flush()
}
