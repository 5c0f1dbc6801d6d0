package source

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/fetcher"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// Wire shapes for the shipment tracking API.
type shipmentsResponse struct {
	Shipments []shipment `json:"shipments"`
}

type shipment struct {
	ShipmentID       string         `json:"shipment_id"`
	Supplier         string         `json:"supplier"`
	Parts            []shipmentPart `json:"parts"`
	EstimatedArrival string         `json:"estimated_arrival"`
	Status           string         `json:"status"`
	LastUpdated      string         `json:"last_updated"`
}

type shipmentPart struct {
	PartID          string  `json:"part_id"`
	QuantityShipped int     `json:"quantity_shipped"`
	UnitCostUSD     float64 `json:"unit_cost_usd"`
}

type fxQuote struct {
	Rate         float64 `json:"rate"`
	CurrencyPair string  `json:"currency_pair"`
}

// LogisticsSource pulls active shipments from the logistics provider and
// flattens each shipment's parts into one record per part. Costs arrive
// in USD and are converted to ZAR at the rate the FX endpoint quotes at
// fetch time.
type LogisticsSource struct {
	name        string
	reliability float64
	endpoint    string
	fxEndpoint  string
	http        *fetcher.HTTPFetcher
	breaker     *resilience.CircuitBreaker
	now         func() time.Time
}

// NewLogistics builds a logistics adapter from a validated spec.
func NewLogistics(spec Spec, deps Deps) *LogisticsSource {
	s := &LogisticsSource{
		name:        spec.Name,
		reliability: spec.Reliability,
		endpoint:    spec.Endpoint,
		fxEndpoint:  spec.FXEndpoint,
		http:        deps.HTTP,
		now:         time.Now,
	}
	if deps.Breakers != nil {
		s.breaker = deps.Breakers.Get(spec.Name)
	} else {
		s.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return s
}

func (s *LogisticsSource) Name() string { return s.name }

func (s *LogisticsSource) Kind() model.SourceKind { return model.SourceKindLogistics }

func (s *LogisticsSource) Reliability() float64 { return s.reliability }

// Fetch pulls active shipments and the current FX rate, then flattens
// shipment parts into raw records. Quantities are tagged in_transit; the
// shipment status rides along so normalization can tell delivered stock
// apart from stock still on the water.
func (s *LogisticsSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	ingestedAt := s.now().UTC()

	resp, err := resilience.ExecuteVal(ctx, s.breaker, s.fetchShipments)
	if err != nil {
		return nil, eris.Wrapf(err, "logistics: %s: fetch shipments", s.name)
	}
	rate, err := resilience.ExecuteVal(ctx, s.breaker, s.fetchRate)
	if err != nil {
		return nil, eris.Wrapf(err, "logistics: %s: fetch fx rate", s.name)
	}

	var records []model.RawRecord
	for _, sh := range resp.Shipments {
		for _, part := range sh.Parts {
			if part.PartID == "" {
				zap.L().Warn("logistics: dropping shipment line without part_id",
					zap.String("source", s.name),
					zap.String("shipment_id", sh.ShipmentID))
				continue
			}
			records = append(records, model.RawRecord{
				SourceSystem:     s.name,
				SourceKind:       model.SourceKindLogistics,
				Reliability:      s.reliability,
				IngestedAt:       ingestedAt,
				PartID:           part.PartID,
				Quantity:         part.QuantityShipped,
				QuantitySemantic: model.SemanticInTransit,
				UnitCostUSD:      part.UnitCostUSD,
				UnitCostZAR:      math.Round(part.UnitCostUSD*rate*100) / 100,
				FXRate:           rate,
				Supplier:         sh.Supplier,
				Status:           sh.Status,
				EstimatedArrival: sh.EstimatedArrival,
				LastUpdated:      sh.LastUpdated,
				ShipmentID:       sh.ShipmentID,
			})
		}
	}

	zap.L().Info("logistics: fetched shipments",
		zap.String("source", s.name),
		zap.Int("shipments", len(resp.Shipments)),
		zap.Int("records", len(records)),
		zap.Float64("fx_rate", rate))
	return records, nil
}

func (s *LogisticsSource) fetchShipments(ctx context.Context) (*shipmentsResponse, error) {
	body, err := s.http.Download(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return fetcher.DecodeJSONObject[shipmentsResponse](body)
}

func (s *LogisticsSource) fetchRate(ctx context.Context) (float64, error) {
	body, err := s.http.Download(ctx, s.fxEndpoint)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	quote, err := fetcher.DecodeJSONObject[fxQuote](body)
	if err != nil {
		return 0, err
	}
	if quote.Rate <= 0 {
		return 0, eris.Errorf("fx endpoint quoted %.4f", quote.Rate)
	}
	return quote.Rate, nil
}
