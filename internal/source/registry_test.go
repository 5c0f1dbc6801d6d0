package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-supply/recon-cli/internal/model"
)

func writeSourcesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSpecs(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    reliability: 0.7
    endpoint: ./data/raw/warehouse_stock.csv
  - name: logistics_shipments
    kind: logistics
    reliability: 0.9
    endpoint: http://localhost:8000/api/shipments/active
    fx_endpoint: http://localhost:8000/api/fx/usd-zar
`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "warehouse_stock", specs[0].Name)
	assert.Equal(t, "warehouse", specs[0].Kind)
	assert.InDelta(t, 0.7, specs[0].Reliability, 0.001)
	assert.Equal(t, "./data/raw/warehouse_stock.csv", specs[0].Endpoint)

	assert.Equal(t, "logistics_shipments", specs[1].Name)
	assert.Equal(t, "http://localhost:8000/api/fx/usd-zar", specs[1].FXEndpoint)
}

func TestLoadSpecs_DefaultsReliabilityByKind(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.csv
  - name: logistics_shipments
    kind: logistics
    endpoint: http://localhost:8000/api/shipments/active
    fx_endpoint: http://localhost:8000/api/fx/usd-zar
`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.InDelta(t, 0.7, specs[0].Reliability, 0.001)
	assert.InDelta(t, 0.9, specs[1].Reliability, 0.001)
}

func TestLoadSpecs_ReliabilityOutOfRange(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    reliability: 1.5
    endpoint: ./stock.csv
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0, 1]")
}

func TestLoadSpecs_UnknownKind(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: maintenance_log
    kind: maintenance
    endpoint: ./maint.csv
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "maintenance"`)
}

func TestLoadSpecs_MissingEndpoint(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing endpoint")
}

func TestLoadSpecs_LogisticsRequiresFXEndpoint(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: logistics_shipments
    kind: logistics
    endpoint: http://localhost:8000/api/shipments/active
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing fx_endpoint")
}

func TestLoadSpecs_UnknownWarehouseFormat(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.parquet
    format: parquet
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "parquet"`)
}

func TestLoadSpecs_AcceptedWarehouseFormats(t *testing.T) {
	for _, format := range []string{"csv", "xlsx", "xml"} {
		path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.`+format+`
    format: `+format+`
`)

		specs, err := LoadSpecs(path)
		require.NoError(t, err, format)
		require.Len(t, specs, 1)
		assert.Equal(t, format, specs[0].Format)
	}
}

func TestLoadSpecs_XLSXSheet(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.xlsx
    format: xlsx
    sheet: Stock
`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Stock", specs[0].Sheet)
}

func TestLoadSpecs_SheetRequiresXLSX(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.csv
    format: csv
    sheet: Stock
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet only applies to the xlsx format")
}

func TestLoadSpecs_FileMissing(t *testing.T) {
	_, err := LoadSpecs(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadSpecs_MalformedYAML(t *testing.T) {
	path := writeSourcesFile(t, "sources: [oops")
	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestNewRegistry(t *testing.T) {
	specs := []Spec{
		{Name: "warehouse_stock", Kind: "warehouse", Reliability: 0.7, Endpoint: "./stock.csv"},
		{Name: "logistics_shipments", Kind: "logistics", Reliability: 0.9,
			Endpoint: "http://localhost:8000/api/shipments/active",
			FXEndpoint: "http://localhost:8000/api/fx/usd-zar"},
	}

	reg, err := NewRegistry(specs, Deps{})
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	sources := reg.Sources()
	assert.Equal(t, "warehouse_stock", sources[0].Name())
	assert.Equal(t, model.SourceKindWarehouse, sources[0].Kind())
	assert.InDelta(t, 0.7, sources[0].Reliability(), 0.001)
	assert.Equal(t, model.SourceKindLogistics, sources[1].Kind())
}

func TestLoadRegistry(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - name: warehouse_stock
    kind: warehouse
    endpoint: ./stock.csv
`)

	reg, err := LoadRegistry(path, Deps{})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}
