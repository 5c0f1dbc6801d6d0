package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "inventory_events",
		Columns:      []string{"event_id", "part_id"},
		ConflictKeys: []string{"event_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "inventory_events",
		ConflictKeys: []string{"event_id"},
	}, [][]any{{"evt-1", "P001"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "inventory_events",
		Columns: []string{"event_id", "part_id"},
	}, [][]any{{"evt-1", "P001"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoNothingSkipsExistingRows(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_inventory_events"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_inventory_events"}, []string{"event_id", "part_id"}).
		WillReturnResult(2)
	// Only one of the two copied rows actually lands.
	mock.ExpectExec(`INSERT INTO "inventory_events" .* ON CONFLICT \("event_id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{{"evt-1", "P001"}, {"evt-2", "P002"}}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "inventory_events",
		Columns:      []string{"event_id", "part_id"},
		ConflictKeys: []string{"event_id"},
		DoNothing:    true,
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_DoUpdateSetsNonKeyColumns(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_inventory_facts"}, []string{"part_id", "part_name"}).
		WillReturnResult(1)
	mock.ExpectExec(`DO UPDATE SET "part_name" = EXCLUDED\."part_name"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{{"P001", "Hydraulic Pump"}}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "inventory_facts",
		Columns:      []string{"part_id", "part_name"},
		ConflictKeys: []string{"part_id"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"inventory_events", `"inventory_events"`},
		{"recon.inventory_facts", `"recon"."inventory_facts"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"event_id", "part_id", "quantity"})
	assert.Equal(t, `"event_id", "part_id", "quantity"`, result)
}
