package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/monitoring"
)

var (
	statusLookback int
	statusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inventory and pipeline health",
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

		snap, err := monitoring.NewCollector(st, cfg.Thresholds).Collect(ctx, statusLookback)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(statusReport{Snapshot: snap, Alerts: alerts})
		}

		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

// statusReport is the JSON shape of the status command and GET /api/status.
type statusReport struct {
	Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
	Alerts   []monitoring.Alert          `json:"alerts"`
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 24, "run-history window in hours")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes the snapshot and any active alerts to out.
func formatStatus(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Parts tracked:\t%d\n", snap.PartsTotal)
	_, _ = fmt.Fprintf(w, "Inconsistent:\t%d\n", snap.InconsistentParts)
	_, _ = fmt.Fprintf(w, "Low stock:\t%d\n", snap.LowStockParts)
	_, _ = fmt.Fprintf(w, "Stale:\t%d\n", snap.StaleParts)
	for _, u := range []model.ReorderUrgency{model.UrgencyUrgent, model.UrgencyManualReview, model.UrgencyRecommended} {
		if n := snap.UrgencyCounts[u]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", u, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Avg reliability:\t%.2f\n", snap.AvgReliability)
	_, _ = fmt.Fprintf(w, "Stock value:\tR %s\n", p.Sprintf("%.2f", snap.StockValueZAR))
	_, _ = fmt.Fprintf(w, "Runs (last %dh):\t%d complete, %d failed, %d running\n",
		snap.LookbackHours, snap.RunsComplete, snap.RunsFailed, snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "DLQ depth:\t%d\n", snap.DLQDepth)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo active alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d active alert(s):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s/%s] %s\n", a.Severity, a.Type, a.Message)
	}
}
