// Package pipeline implements the bronze-to-gold reconciliation pipeline:
// normalization of raw source records into typed events, semantic conflict
// resolution between warehouse and logistics quantities, and aggregation
// into unified per-part facts.
package pipeline

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/model"
)

// businessTimeLayouts are the timestamp formats sources actually emit,
// tried in order. Layouts without a zone are taken as UTC.
var businessTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBusinessTime parses a source-reported business timestamp into a UTC
// instant. The second return is false when the value is empty or matches no
// known layout; the caller decides the fallback policy.
func ParseBusinessTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range businessTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Normalizer converts raw source records into the normalized event stream.
// It never drops a record: unparsable business timestamps fall back to the
// ingestion instant and mark the event degraded instead of failing the
// batch.
type Normalizer struct {
	lateAfter time.Duration
}

// NewNormalizer returns a Normalizer that marks events late when they
// arrive more than lateAfter behind their business timestamp.
func NewNormalizer(lateAfter time.Duration) *Normalizer {
	return &Normalizer{lateAfter: lateAfter}
}

// Normalize converts one raw record into a normalized event.
func (n *Normalizer) Normalize(rec model.RawRecord) model.InventoryEvent {
	ingested := rec.IngestedAt.UTC()

	eventTime, ok := ParseBusinessTime(rec.LastUpdated)
	if !ok {
		eventTime = ingested
		zap.L().Warn("normalize: unparsable business timestamp, using ingestion time",
			zap.String("part_id", rec.PartID),
			zap.String("source", rec.SourceSystem),
			zap.String("last_updated", rec.LastUpdated),
		)
	}

	eventType := classify(rec.SourceKind, rec.Status)

	ev := model.InventoryEvent{
		EventID:           model.EventIdentity(rec.SourceSystem, rec.PartID, rec.ShipmentID, ingested),
		EventType:         eventType,
		PartID:            rec.PartID,
		PartName:          rec.PartName,
		Quantity:          rec.Quantity,
		QuantitySemantic:  semanticFor(eventType, rec.QuantitySemantic),
		UnitCostZAR:       rec.UnitCostZAR,
		EventTime:         eventTime,
		IngestedAt:        ingested,
		TimestampDegraded: !ok,
		SourceSystem:      rec.SourceSystem,
		SourceKind:        rec.SourceKind,
		Reliability:       rec.Reliability,
		Status:            rec.Status,
		Supplier:          rec.Supplier,
		WarehouseLocation: rec.WarehouseLocation,
		EstimatedArrival:  rec.EstimatedArrival,
		ShipmentID:        rec.ShipmentID,
	}

	if lateness := ingested.Sub(eventTime).Hours(); lateness > n.lateAfter.Hours() {
		ev.IsLateArrival = true
		ev.LatenessHours = math.Round(lateness*100) / 100
	}

	return ev
}

// NormalizeBatch converts records in input order. The output always has one
// event per record.
func (n *Normalizer) NormalizeBatch(records []model.RawRecord) []model.InventoryEvent {
	events := make([]model.InventoryEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, n.Normalize(rec))
	}
	return events
}

// classify maps (source kind, shipment status) to an event type. Warehouse
// records are always physical counts; logistics records split on status.
func classify(kind model.SourceKind, status string) model.EventType {
	switch kind {
	case model.SourceKindWarehouse:
		return model.EventStockCount
	case model.SourceKindLogistics:
		switch status {
		case model.StatusInTransit:
			return model.EventShipmentInTransit
		case model.StatusDelivered:
			return model.EventGoodsReceipt
		default:
			return model.EventShipmentDispatch
		}
	}
	return model.EventUnknown
}

// semanticFor refines the quantity semantic from the event classification.
// Classification is decisive for known kinds; unknown kinds keep whatever
// the source tagged.
func semanticFor(eventType model.EventType, tagged model.QuantitySemantic) model.QuantitySemantic {
	switch eventType {
	case model.EventStockCount:
		return model.SemanticOnShelf
	case model.EventShipmentInTransit, model.EventShipmentDispatch:
		return model.SemanticInTransit
	case model.EventGoodsReceipt:
		return model.SemanticDelivered
	}
	if tagged != "" {
		return tagged
	}
	return model.SemanticUnknown
}
