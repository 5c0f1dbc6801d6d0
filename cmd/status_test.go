package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/monitoring"
)

func TestFormatStatus(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		PartsTotal:        5,
		InconsistentParts: 1,
		LowStockParts:     2,
		StaleParts:        0,
		UrgencyCounts: map[model.ReorderUrgency]int{
			model.UrgencyUrgent:       1,
			model.UrgencyManualReview: 1,
		},
		AvgReliability: 0.74,
		StockValueZAR:  1236500.50,
		RunsTotal:      4,
		RunsComplete:   3,
		RunsFailed:     1,
		LookbackHours:  24,
		DLQDepth:       2,
	}

	var buf bytes.Buffer
	formatStatus(&buf, snap, nil)
	out := buf.String()

	assert.Contains(t, out, "Parts tracked:")
	assert.Contains(t, out, "R 1,236,500.50")
	assert.Contains(t, out, "urgent:")
	assert.Contains(t, out, "manual_review:")
	assert.NotContains(t, out, "recommended:")
	assert.Contains(t, out, "3 complete, 1 failed")
	assert.Contains(t, out, "DLQ depth:")
	assert.Contains(t, out, "No active alerts.")
}

func TestFormatStatus_Alerts(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{LookbackHours: 24}
	alerts := []monitoring.Alert{
		{
			Type:      monitoring.AlertDLQDepth,
			Severity:  "warning",
			Message:   "DLQ depth 60 exceeds threshold 50",
			Timestamp: time.Now().UTC(),
		},
	}

	var buf bytes.Buffer
	formatStatus(&buf, snap, alerts)
	out := buf.String()

	assert.Contains(t, out, "1 active alert(s):")
	assert.Contains(t, out, "[warning/dlq_depth] DLQ depth 60 exceeds threshold 50")
	assert.NotContains(t, out, "No active alerts.")
}
