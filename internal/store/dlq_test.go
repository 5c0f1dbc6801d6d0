package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

func TestSQLite_DLQ_EnqueueAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ev := seedShelfEvent("", 45, time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC))
	entry := resilience.DLQEntry{
		ID:        "dlq-1",
		Event:     ev,
		Reason:    "missing part id",
		ErrorType: "permanent",
		RunID:     "run-1",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dlq-1", entries[0].ID)
	assert.Equal(t, "missing part id", entries[0].Reason)
	assert.Equal(t, "permanent", entries[0].ErrorType)
	assert.Equal(t, "run-1", entries[0].RunID)
	// The offending event rides along for inspection and replay.
	assert.Equal(t, ev.EventID, entries[0].Event.EventID)
	assert.Equal(t, model.EventStockCount, entries[0].Event.EventType)
	assert.Equal(t, 45, entries[0].Event.Quantity)
}

func TestSQLite_DLQ_FilterByErrorTypeAndRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID:        "dlq-t",
		Event:     seedShelfEvent("P001", 45, base),
		Reason:    "store write failed",
		ErrorType: "transient",
		RunID:     "run-1",
	}))
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID:        "dlq-p",
		Event:     seedShelfEvent("P002", 12, base),
		Reason:    `unattributable source kind "maintenance"`,
		ErrorType: "permanent",
		RunID:     "run-2",
	}))

	transient, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	assert.Equal(t, "dlq-t", transient[0].ID)

	byRun, err := st.ListDLQ(ctx, resilience.DLQFilter{RunID: "run-2"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "dlq-p", byRun[0].ID)

	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_DLQ_RemoveAndCount(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "dlq-1", Event: seedShelfEvent("P001", 45, base), Reason: "missing part id", ErrorType: "permanent"}))
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "dlq-2", Event: seedShelfEvent("P002", 12, base), Reason: "missing part id", ErrorType: "permanent"}))

	count, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, st.RemoveDLQ(ctx, "dlq-1"))

	count, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "dlq-2", remaining[0].ID)
}

func TestSQLite_DLQ_FillsIDAndTimestamp(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	entry := resilience.DLQEntry{
		Event:     seedShelfEvent("P001", 45, time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)),
		Reason:    "missing part id",
		ErrorType: "permanent",
	}
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}
