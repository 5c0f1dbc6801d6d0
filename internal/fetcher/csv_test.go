package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainCSV collects all rows and the terminal error from a StreamCSV call.
func drainCSV(rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}

func TestStreamCSV_StockRows(t *testing.T) {
	input := "PRT-0001,120,A-03\nPRT-0002,45,B-11\nPRT-0003,0,B-12\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"PRT-0001", "120", "A-03"}, rows[0])
	assert.Equal(t, []string{"PRT-0003", "0", "B-12"}, rows[2])
}

func TestStreamCSV_HeaderCapture(t *testing.T) {
	input := "part_id,qty_on_shelf\nPRT-0001,120\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"PRT-0001", "120"}, rows[0])
	assert.Equal(t, []string{"part_id", "qty_on_shelf"}, <-headerCh)
}

func TestStreamCSV_HeaderSkippedWithoutChannel(t *testing.T) {
	input := "part_id,qty_on_shelf\nPRT-0001,120\nPRT-0002,45\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
	})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "PRT-0001", rows[0][0])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := " PRT-0001 ,\t120 , A-03\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
	})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"PRT-0001", "120", "A-03"}, rows[0])
}

func TestStreamCSV_SemicolonDelimiter(t *testing.T) {
	input := "PRT-0001;120;A-03\nPRT-0002;45;B-11\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
	})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"PRT-0002", "45", "B-11"}, rows[1])
}

func TestStreamCSV_VariableFieldCounts(t *testing.T) {
	// Hand-keyed rows sometimes lose the location column.
	input := "PRT-0001,120,A-03\nPRT-0002,45\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 3)
	assert.Len(t, rows[1], 2)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := drainCSV(rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_MalformedQuote(t *testing.T) {
	input := "PRT-0001,\"unterminated\nPRT-0002,45\n"

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	_, err := drainCSV(rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("PRT-0001,120\n"), CSVOptions{})
	_, err := drainCSV(rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
