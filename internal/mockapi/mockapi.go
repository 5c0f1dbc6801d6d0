// Package mockapi serves the demo warehouse, logistics, and FX feeds that
// the default sources.yaml points at, so the pipeline can run end to end
// without real systems. The shipment data always includes the shadow stock
// scenario: SHP-2024-002 was delivered hours ago, but the warehouse count
// for its part has not caught up yet.
package mockapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type shipmentPart struct {
	PartID          string  `json:"part_id"`
	QuantityShipped int     `json:"quantity_shipped"`
	UnitCostUSD     float64 `json:"unit_cost_usd"`
}

type shipment struct {
	ShipmentID       string         `json:"shipment_id"`
	Supplier         string         `json:"supplier"`
	Parts            []shipmentPart `json:"parts"`
	EstimatedArrival string         `json:"estimated_arrival"`
	Status           string         `json:"status"`
	LastUpdated      string         `json:"last_updated"`
}

type stockRow struct {
	partID    string
	partName  string
	qty       int
	costZAR   float64
	location  string
	hoursAgo  int // shift-staggered update lag
}

// warehouseStock is the demo inventory. P004 is low enough to trigger a
// reorder, P005 is out of stock, and P003's count predates the delivered
// shipment SHP-2024-002.
var warehouseStock = []stockRow{
	{"P001", "Hydraulic Pump HP-2000", 45, 12500.00, "JHB-North", 2},
	{"P002", "Conveyor Belt 1200mm", 12, 8900.50, "JHB-South", 4},
	{"P003", "Safety Valve SV-100", 78, 3200.00, "CPT-Main", 10},
	{"P004", "Drill Bit 45mm Carbide", 5, 1850.00, "JHB-North", 6},
	{"P005", "Bearing Assembly BA-500", 0, 6750.00, "JHB-South", 8},
}

// Server answers the mock provider endpoints.
type Server struct {
	now func() time.Time
}

// NewServer creates a mock provider server.
func NewServer() *Server {
	return &Server{now: time.Now}
}

// Router builds the provider routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/shipments/active", s.handleShipments)
		r.Get("/fx/usd-zar", s.handleFX)
		r.Get("/warehouse/stock.csv", s.handleStockCSV)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"service":   "mock providers",
	})
}

// handleShipments returns the two demo shipments: one still on the road
// and one delivered eight hours ago whose parts are not on the shelf yet.
func (s *Server) handleShipments(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	shipments := []shipment{
		{
			ShipmentID: "SHP-2024-001",
			Supplier:   "Supplier_A",
			Parts: []shipmentPart{
				{PartID: "P001", QuantityShipped: 20, UnitCostUSD: 145.50},
				{PartID: "P002", QuantityShipped: 15, UnitCostUSD: 98.75},
			},
			EstimatedArrival: now.Add(48 * time.Hour).Format("2006-01-02"),
			Status:           "in_transit",
			LastUpdated:      now.Add(-2 * time.Hour).Format(time.RFC3339),
		},
		{
			ShipmentID: "SHP-2024-002",
			Supplier:   "Supplier_B",
			Parts: []shipmentPart{
				{PartID: "P003", QuantityShipped: 50, UnitCostUSD: 42.30},
			},
			EstimatedArrival: now.Format("2006-01-02"),
			Status:           "delivered",
			LastUpdated:      now.Add(-8 * time.Hour).Format(time.RFC3339),
		},
	}
	writeJSON(w, map[string]any{"shipments": shipments})
}

// handleFX quotes USD/ZAR around 18.50 with a small jitter per call.
func (s *Server) handleFX(w http.ResponseWriter, r *http.Request) {
	rate := 18.50 + (rand.Float64()-0.5)*0.10
	writeJSON(w, map[string]any{
		"rate":          math.Round(rate*10000) / 10000,
		"currency_pair": "USD/ZAR",
		"timestamp":     s.now().UTC().Format(time.RFC3339),
		"source":        "Mock FX Provider",
	})
}

// handleStockCSV serves the warehouse export with shift-staggered update
// timestamps.
func (s *Server) handleStockCSV(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()

	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"part_id", "part_name", "qty_on_shelf", "unit_cost_zar", "last_updated", "warehouse_location"})
	for _, row := range warehouseStock {
		_ = cw.Write([]string{
			row.partID,
			row.partName,
			strconv.Itoa(row.qty),
			fmt.Sprintf("%.2f", row.costZAR),
			now.Add(-time.Duration(row.hoursAgo) * time.Hour).Format("2006-01-02 15:04:05"),
			row.location,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		zap.L().Error("mockapi: write stock csv", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("mockapi: encode response", zap.Error(err))
	}
}
