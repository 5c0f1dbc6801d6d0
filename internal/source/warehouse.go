package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/fetcher"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// WarehouseSource reads physical stock counts from a warehouse export.
// Counts are keyed in by hand at shift changes, so the feed lags reality
// and carries typos; it still owns the on-shelf truth.
type WarehouseSource struct {
	name        string
	reliability float64
	endpoint    string
	format      string
	sheet       string
	http        *fetcher.HTTPFetcher
	ftp         *fetcher.FTPFetcher
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	now         func() time.Time
}

// NewWarehouse builds a warehouse adapter from a validated spec.
func NewWarehouse(spec Spec, deps Deps) *WarehouseSource {
	s := &WarehouseSource{
		name:        spec.Name,
		reliability: spec.Reliability,
		endpoint:    spec.Endpoint,
		format:      spec.Format,
		sheet:       spec.Sheet,
		http:        deps.HTTP,
		ftp:         deps.FTP,
		retry:       deps.Retry,
		now:         time.Now,
	}
	if s.format == "" {
		s.format = "csv"
	}
	if deps.Breakers != nil {
		s.breaker = deps.Breakers.Get(spec.Name)
	} else {
		s.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger(spec.Name, "download")
	}
	return s
}

func (s *WarehouseSource) Name() string { return s.name }

func (s *WarehouseSource) Kind() model.SourceKind { return model.SourceKindWarehouse }

func (s *WarehouseSource) Reliability() float64 { return s.reliability }

// Fetch downloads the export and returns one record per usable row.
// Rows without a part id, with an unreadable count, or with a negative
// count are dropped with a warning rather than poisoning the batch.
func (s *WarehouseSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	ingestedAt := s.now().UTC()

	header, rows, err := s.loadRows(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: %s", s.name)
	}

	records := make([]model.RawRecord, 0, len(rows))
	for i, row := range rows {
		rec, ok := s.parseRow(idx, row, i+2) // +2: 1-based, after header
		if !ok {
			continue
		}
		rec.SourceSystem = s.name
		rec.SourceKind = model.SourceKindWarehouse
		rec.Reliability = s.reliability
		rec.IngestedAt = ingestedAt
		records = append(records, rec)
	}

	zap.L().Info("warehouse: fetched stock counts",
		zap.String("source", s.name),
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)))
	return records, nil
}

// loadRows acquires the export and returns the header plus data rows.
func (s *WarehouseSource) loadRows(ctx context.Context) ([]string, [][]string, error) {
	endpoint := s.endpoint

	// Zipped exports are extracted first; the archive holds a single file.
	if strings.EqualFold(filepath.Ext(endpoint), ".zip") && !isRemote(endpoint) {
		dir, err := os.MkdirTemp("", "warehouse-export-*")
		if err != nil {
			return nil, nil, eris.Wrap(err, "warehouse: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		extracted, err := fetcher.ExtractZIPSingle(endpoint, dir)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "warehouse: extract %s", endpoint)
		}
		endpoint = extracted
	}

	switch s.format {
	case "xlsx":
		return s.loadXLSX(endpoint)
	case "xml":
		return s.loadXML(ctx, endpoint)
	}
	return s.loadCSV(ctx, endpoint)
}

func (s *WarehouseSource) loadCSV(ctx context.Context, endpoint string) ([]string, [][]string, error) {
	body, err := s.open(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, body, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, nil, eris.Wrapf(err, "warehouse: read %s", endpoint)
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
	}
	return header, rows, nil
}

func (s *WarehouseSource) loadXLSX(endpoint string) ([]string, [][]string, error) {
	rows, err := fetcher.ReadXLSX(endpoint, fetcher.XLSXOptions{SheetName: s.sheet})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "warehouse: read %s", endpoint)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}

// xmlStockItem is one <item> element in an ERP-style stock export.
type xmlStockItem struct {
	PartID      string `xml:"part_id"`
	PartName    string `xml:"part_name"`
	QtyOnShelf  string `xml:"qty_on_shelf"`
	UnitCostZAR string `xml:"unit_cost_zar"`
	LastUpdated string `xml:"last_updated"`
	Location    string `xml:"warehouse_location"`
}

func (s *WarehouseSource) loadXML(ctx context.Context, endpoint string) ([]string, [][]string, error) {
	body, err := s.open(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close() //nolint:errcheck

	itemCh, errCh := fetcher.StreamXML[xmlStockItem](ctx, body, "item")

	var rows [][]string
	for item := range itemCh {
		rows = append(rows, []string{
			item.PartID,
			item.PartName,
			item.QtyOnShelf,
			item.UnitCostZAR,
			item.LastUpdated,
			item.Location,
		})
	}
	if err := <-errCh; err != nil {
		return nil, nil, eris.Wrapf(err, "warehouse: read %s", endpoint)
	}

	// Field names ride on the element tags, so the header is fixed.
	header := []string{"part_id", "part_name", "qty_on_shelf", "unit_cost_zar", "last_updated", "warehouse_location"}
	return header, rows, nil
}

// open resolves the endpoint into a reader. HTTP downloads already retry
// inside the fetcher, so the breaker wraps a single logical attempt; FTP
// has no built-in retry and gets the retry loop inside the breaker.
func (s *WarehouseSource) open(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (io.ReadCloser, error) {
			return s.http.Download(ctx, endpoint)
		})
	case strings.HasPrefix(endpoint, "ftp://"):
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (io.ReadCloser, error) {
			return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (io.ReadCloser, error) {
				return s.ftp.Download(ctx, endpoint)
			})
		})
	default:
		f, err := os.Open(endpoint)
		if err != nil {
			return nil, eris.Wrapf(err, "warehouse: open export %s", endpoint)
		}
		return f, nil
	}
}

func isRemote(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") ||
		strings.HasPrefix(endpoint, "https://") ||
		strings.HasPrefix(endpoint, "ftp://")
}

// columnIndex maps lowercased header names to positions. Exports from
// different warehouses reorder columns, so positions are never assumed.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, want := range []string{"part_id", "qty_on_shelf"} {
		if _, ok := idx[want]; !ok {
			return nil, eris.Errorf("export missing %q column", want)
		}
	}
	return idx, nil
}

func (s *WarehouseSource) parseRow(idx map[string]int, row []string, line int) (model.RawRecord, bool) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	partID := get("part_id")
	if partID == "" {
		zap.L().Warn("warehouse: dropping row without part_id",
			zap.String("source", s.name), zap.Int("line", line))
		return model.RawRecord{}, false
	}

	qty, err := strconv.Atoi(get("qty_on_shelf"))
	if err != nil {
		zap.L().Warn("warehouse: dropping row with unreadable count",
			zap.String("source", s.name),
			zap.String("part_id", partID),
			zap.String("qty_on_shelf", get("qty_on_shelf")))
		return model.RawRecord{}, false
	}
	if qty < 0 {
		zap.L().Warn("warehouse: dropping negative stock count",
			zap.String("source", s.name),
			zap.String("part_id", partID),
			zap.Int("quantity", qty))
		return model.RawRecord{}, false
	}

	cost, _ := strconv.ParseFloat(get("unit_cost_zar"), 64)

	return model.RawRecord{
		PartID:            partID,
		PartName:          get("part_name"),
		Quantity:          qty,
		QuantitySemantic:  model.SemanticOnShelf,
		UnitCostZAR:       cost,
		LastUpdated:       get("last_updated"),
		WarehouseLocation: get("warehouse_location"),
	}, true
}
