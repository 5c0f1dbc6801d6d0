// Package monitoring watches the health of the reconciliation system:
// inventory data quality from the open facts, pipeline run outcomes over a
// lookback window, and dead-letter queue depth. An Alerter turns threshold
// breaches into webhook alerts and a Checker drives periodic evaluation
// while the query server runs.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Inventory metrics (open facts).
	PartsTotal        int                          `json:"parts_total"`
	InconsistentParts int                          `json:"inconsistent_parts"`
	LowStockParts     int                          `json:"low_stock_parts"`
	StaleParts        int                          `json:"stale_parts"`
	UrgencyCounts     map[model.ReorderUrgency]int `json:"urgency_counts"`
	AvgReliability    float64                      `json:"avg_reliability"`
	StockValueZAR     float64                      `json:"stock_value_zar"`

	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// DLQ depth (all-time, not windowed).
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the fact store and run history.
type Collector struct {
	store      store.Store
	thresholds config.ThresholdConfig
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Thresholds supply the
// low-stock level and freshness cutoff used to classify facts.
func NewCollector(st store.Store, thresholds config.ThresholdConfig) *Collector {
	return &Collector{store: st, thresholds: thresholds, now: time.Now}
}

// Collect gathers a snapshot of system metrics. Fact metrics cover every
// open fact; run metrics cover the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		UrgencyCounts: make(map[model.ReorderUrgency]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	facts, err := c.store.ListOpenFacts(ctx, model.FactFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list open facts")
	}

	snap.PartsTotal = len(facts)
	var totalReliability float64
	for _, f := range facts {
		if f.HasInconsistency {
			snap.InconsistentParts++
		}
		if f.EffectiveInventory < c.thresholds.ReorderBelow {
			snap.LowStockParts++
		}
		// A missing shelf timestamp counts as stale, matching the gate.
		if f.ShelfLastUpdated == nil || now.Sub(f.ShelfLastUpdated.UTC()) > c.thresholds.MaxDataAge() {
			snap.StaleParts++
		}
		snap.UrgencyCounts[f.Reorder.Urgency]++
		totalReliability += f.DataReliabilityIndex
		snap.StockValueZAR += f.StockValueZAR()
	}
	if snap.PartsTotal > 0 {
		snap.AvgReliability = totalReliability / float64(snap.PartsTotal)
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListRuns(ctx, model.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
