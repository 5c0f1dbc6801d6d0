// Package model defines the domain types shared across the reconciliation
// pipeline: raw source records, normalized inventory events, unified facts,
// and safety verdicts.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceKind identifies the category of an inventory data source.
type SourceKind string

const (
	SourceKindWarehouse SourceKind = "warehouse"
	SourceKindLogistics SourceKind = "logistics"
)

// SourceCapability describes how records from a source kind are interpreted.
type SourceCapability struct {
	DefaultReliability float64
	DefaultSemantic    QuantitySemantic
}

// sourceCapabilities is the closed table of known source kinds. Adding a
// source kind means adding a row here; the normalizer and resolver key off
// this table rather than branching on source names.
var sourceCapabilities = map[SourceKind]SourceCapability{
	SourceKindWarehouse: {DefaultReliability: 0.7, DefaultSemantic: SemanticOnShelf},
	SourceKindLogistics: {DefaultReliability: 0.9, DefaultSemantic: SemanticInTransit},
}

// CapabilityFor returns the capability row for a source kind.
// The second return is false for unknown kinds.
func CapabilityFor(kind SourceKind) (SourceCapability, bool) {
	cap, ok := sourceCapabilities[kind]
	return cap, ok
}

// QuantitySemantic states what a quantity figure actually counts.
type QuantitySemantic string

const (
	SemanticOnShelf   QuantitySemantic = "on_shelf"
	SemanticInTransit QuantitySemantic = "in_transit"
	SemanticDelivered QuantitySemantic = "delivered"
	SemanticUnknown   QuantitySemantic = "unknown"
)

// EventType classifies a normalized inventory event.
type EventType string

const (
	EventStockCount        EventType = "stock_count"
	EventShipmentInTransit EventType = "shipment_in_transit"
	EventGoodsReceipt      EventType = "goods_receipt"
	EventShipmentDispatch  EventType = "shipment_dispatch"
	EventUnknown           EventType = "unknown"
)

// ShipmentStatus values reported by the logistics feed.
const (
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
)

// RawRecord is a single record as ingested from a source, before
// normalization. Business fields are carried as reported; LastUpdated stays
// a string because sources disagree on timestamp formats and parsing is the
// normalizer's job.
type RawRecord struct {
	// Source metadata, stamped by the ingestion adapter.
	SourceSystem string     `json:"source_system"`
	SourceKind   SourceKind `json:"source_kind"`
	Reliability  float64    `json:"reliability"`
	IngestedAt   time.Time  `json:"ingested_at"`

	// Business fields.
	PartID           string           `json:"part_id"`
	PartName         string           `json:"part_name,omitempty"`
	Quantity         int              `json:"quantity"`
	QuantitySemantic QuantitySemantic `json:"quantity_semantic"`
	UnitCostZAR      float64          `json:"unit_cost_zar,omitempty"`
	UnitCostUSD      float64          `json:"unit_cost_usd,omitempty"`
	FXRate           float64          `json:"fx_rate,omitempty"`
	LastUpdated      string           `json:"last_updated,omitempty"`
	Status           string           `json:"status,omitempty"`
	Supplier         string           `json:"supplier,omitempty"`
	EstimatedArrival string           `json:"estimated_arrival,omitempty"`
	WarehouseLocation string          `json:"warehouse_location,omitempty"`
	ShipmentID       string           `json:"shipment_id,omitempty"`
}

// InventoryEvent is a normalized record: typed, classified, and stamped
// with lateness metadata. Events are immutable once written.
type InventoryEvent struct {
	EventID          string           `json:"event_id"`
	EventType        EventType        `json:"event_type"`
	PartID           string           `json:"part_id"`
	PartName         string           `json:"part_name,omitempty"`
	Quantity         int              `json:"quantity"`
	QuantitySemantic QuantitySemantic `json:"quantity_semantic"`
	UnitCostZAR      float64          `json:"unit_cost_zar,omitempty"`

	// EventTime is the business timestamp; IngestedAt is the pipeline's
	// arrival timestamp. When the business timestamp could not be parsed,
	// EventTime falls back to IngestedAt and TimestampDegraded is set.
	EventTime          time.Time `json:"event_time"`
	IngestedAt         time.Time `json:"ingested_at"`
	TimestampDegraded  bool      `json:"timestamp_degraded,omitempty"`
	LatenessHours      float64   `json:"lateness_hours"`
	IsLateArrival      bool      `json:"is_late_arrival"`

	SourceSystem string     `json:"source_system"`
	SourceKind   SourceKind `json:"source_kind"`
	Reliability  float64    `json:"reliability"`

	Status            string `json:"status,omitempty"`
	Supplier          string `json:"supplier,omitempty"`
	WarehouseLocation string `json:"warehouse_location,omitempty"`
	EstimatedArrival  string `json:"estimated_arrival,omitempty"`
	ShipmentID        string `json:"shipment_id,omitempty"`
}

// EventIdentity derives the deterministic event ID for a record. Two ingests
// of the same source record produce the same ID, which makes reprocessing
// idempotent at the store layer. The shipment ID is part of the identity so
// that one part appearing on two shipments in the same batch yields two
// events; it is empty for warehouse records.
func EventIdentity(sourceSystem, partID, shipmentID string, ingestedAt time.Time) string {
	h := sha256.Sum256([]byte(sourceSystem + "|" + partID + "|" + shipmentID + "|" + ingestedAt.UTC().Format(time.RFC3339Nano)))
	return "evt-" + hex.EncodeToString(h[:8])
}
