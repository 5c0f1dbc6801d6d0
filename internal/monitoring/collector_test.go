package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
	"github.com/aura-supply/recon-cli/internal/store"
)

// Fixed collection instant so staleness classification does not depend on
// the test wall clock.
var collectAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func monitorThresholds() config.ThresholdConfig {
	return config.ThresholdConfig{
		MinReliability:       0.6,
		HighConfidence:       0.85,
		MaxDataAgeHours:      24,
		ShadowWindowHours:    6,
		UrgentBelow:          30,
		ReorderBelow:         50,
		LogisticsReliability: 0.9,
	}
}

func newMonitorStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedFact(partID string, effective int, reliability float64) model.UnifiedInventoryFact {
	shelf := collectAt.Add(-2 * time.Hour)
	return model.UnifiedInventoryFact{
		PartID:               partID,
		PartName:             "Part " + partID,
		QtyOnShelf:           effective,
		EffectiveInventory:   effective,
		DataReliabilityIndex: reliability,
		ConfidenceLevel:      model.ConfidenceHigh,
		Reorder:              model.ReorderAdvice{Urgency: model.UrgencyNone, Reasoning: "Adequate stock"},
		ShelfLastUpdated:     &shelf,
		FactValidFrom:        collectAt.Add(-time.Hour),
	}
}

func TestCollector_FactMetrics(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	healthy := seedFact("P001", 80, 0.9)
	healthy.UnitCostZAR = 100

	low := seedFact("P002", 10, 0.85)
	low.UnitCostZAR = 50
	low.Reorder.Urgency = model.UrgencyUrgent

	flagged := seedFact("P003", 30, 0.55)
	flagged.HasInconsistency = true
	flagged.ConfidenceLevel = model.ConfidenceLow
	flagged.Reorder.Urgency = model.UrgencyManualReview

	noTimestamp := seedFact("P004", 60, 0.7)
	noTimestamp.UnitCostZAR = 20
	noTimestamp.ShelfLastUpdated = nil
	noTimestamp.Reorder.Urgency = model.UrgencyRecommended

	aged := seedFact("P005", 100, 0.75)
	agedShelf := collectAt.Add(-30 * time.Hour)
	aged.ShelfLastUpdated = &agedShelf

	require.NoError(t, st.ReplaceFacts(ctx, []model.UnifiedInventoryFact{
		healthy, low, flagged, noTimestamp, aged,
	}))

	c := NewCollector(st, monitorThresholds())
	c.now = func() time.Time { return collectAt }

	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.PartsTotal)
	assert.Equal(t, 1, snap.InconsistentParts)
	assert.Equal(t, 2, snap.LowStockParts, "P002 and P003 sit below the reorder level")
	assert.Equal(t, 2, snap.StaleParts, "one missing timestamp, one 30h old")
	assert.InDelta(t, 0.75, snap.AvgReliability, 0.0001)
	assert.InDelta(t, 9700.0, snap.StockValueZAR, 0.0001) // 80*100 + 10*50 + 60*20
	assert.Equal(t, map[model.ReorderUrgency]int{
		model.UrgencyNone:         2,
		model.UrgencyUrgent:       1,
		model.UrgencyManualReview: 1,
		model.UrgencyRecommended:  1,
	}, snap.UrgencyCounts)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, collectAt, snap.CollectedAt)
}

func TestCollector_CountsOnlyOpenFacts(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	first := seedFact("P001", 40, 0.8)
	require.NoError(t, st.ReplaceFacts(ctx, []model.UnifiedInventoryFact{first}))

	// A second version closes the first; only the successor should count.
	second := seedFact("P001", 90, 0.9)
	second.FactValidFrom = collectAt
	require.NoError(t, st.ReplaceFacts(ctx, []model.UnifiedInventoryFact{second}))

	c := NewCollector(st, monitorThresholds())
	c.now = func() time.Time { return collectAt }

	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.PartsTotal)
	assert.Equal(t, 0, snap.LowStockParts)
	assert.InDelta(t, 0.9, snap.AvgReliability, 0.0001)
}

func TestCollector_RunMetrics(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	finish := func(status model.RunStatus, errMsg string) {
		run, err := st.CreateRun(ctx)
		require.NoError(t, err)
		run.Status = status
		run.Error = errMsg
		require.NoError(t, st.FinishRun(ctx, run))
	}
	finish(model.RunStatusComplete, "")
	finish(model.RunStatusComplete, "")
	finish(model.RunStatusFailed, "all sources failed")
	_, err := st.CreateRun(ctx) // left running
	require.NoError(t, err)

	c := NewCollector(st, monitorThresholds())
	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 0.001)
}

func TestCollector_LookbackExcludesOldRuns(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	run.Status = model.RunStatusComplete
	require.NoError(t, st.FinishRun(ctx, run))

	// Collect as if two days from now; the run falls outside a 24h window.
	c := NewCollector(st, monitorThresholds())
	c.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.RunFailRate)
}

func TestCollector_DLQDepth(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	for _, id := range []string{"evt-aaaa", "evt-bbbb"} {
		err := st.EnqueueDLQ(ctx, resilience.DLQEntry{
			Event:     model.InventoryEvent{EventID: id, PartID: "P099", SourceSystem: "maintenance_log"},
			Reason:    "unattributable source kind",
			ErrorType: "permanent",
			RunID:     "run-1",
		})
		require.NoError(t, err)
	}

	c := NewCollector(st, monitorThresholds())
	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.DLQDepth)
}

func TestCollector_EmptyStore(t *testing.T) {
	st := newMonitorStore(t)

	c := NewCollector(st, monitorThresholds())
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.PartsTotal)
	assert.Equal(t, 0.0, snap.AvgReliability)
	assert.Equal(t, 0.0, snap.StockValueZAR)
	assert.Empty(t, snap.UrgencyCounts)
	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 0, snap.DLQDepth)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_StoreClosed(t *testing.T) {
	st := newMonitorStore(t)
	require.NoError(t, st.Close())

	c := NewCollector(st, monitorThresholds())
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list open facts")
}
