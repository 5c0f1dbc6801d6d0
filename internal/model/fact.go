package model

import "time"

// ConfidenceLevel grades how much trust downstream consumers should place
// in a unified fact.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// ReorderUrgency is the recommended procurement action class for a part.
type ReorderUrgency string

const (
	UrgencyNone         ReorderUrgency = "none"
	UrgencyRecommended  ReorderUrgency = "recommended"
	UrgencyUrgent       ReorderUrgency = "urgent"
	UrgencyManualReview ReorderUrgency = "manual_review"
)

// ReorderAdvice captures the reorder recommendation derived from a fact.
// ShouldReorder is nil when the data is inconsistent and no automated
// recommendation is safe.
type ReorderAdvice struct {
	ShouldReorder *bool          `json:"should_reorder"`
	Urgency       ReorderUrgency `json:"urgency"`
	Reasoning     string         `json:"reasoning"`
}

// UnifiedInventoryFact is the reconciled, single source of truth for one
// part: one open fact per part at any time (FactValidTo nil), with prior
// versions closed out when a new pipeline run supersedes them.
type UnifiedInventoryFact struct {
	PartID   string `json:"part_id"`
	PartName string `json:"part_name"`

	// Quantity components. EffectiveInventory = QtyOnShelf + InTransitQty;
	// ShadowStockQty is reported but never counted until shelved.
	QtyOnShelf         int `json:"qty_on_shelf"`
	InTransitQty       int `json:"in_transit_qty"`
	ShadowStockQty     int `json:"shadow_stock_qty"`
	EffectiveInventory int `json:"effective_inventory"`

	DataReliabilityIndex float64         `json:"data_reliability_index"`
	SemanticContext      string          `json:"semantic_context"`
	HasInconsistency     bool            `json:"has_inconsistency"`
	ConfidenceLevel      ConfidenceLevel `json:"confidence_level"`
	Reorder              ReorderAdvice   `json:"reorder"`

	// UnitCostZAR is carried from the latest shelf count so stock value can
	// be reported without re-joining events.
	UnitCostZAR float64 `json:"unit_cost_zar,omitempty"`

	// ShelfLastUpdated is the business timestamp of the latest usable
	// warehouse count. Nil when no warehouse event exists or its timestamp
	// was degraded; the safety gate treats nil as not-fresh.
	ShelfLastUpdated *time.Time `json:"shelf_last_updated,omitempty"`

	FactValidFrom time.Time  `json:"fact_valid_from"`
	FactValidTo   *time.Time `json:"fact_valid_to,omitempty"`
}

// StockValueZAR returns the rand value of effective inventory, zero when no
// unit cost is known.
func (f *UnifiedInventoryFact) StockValueZAR() float64 {
	if f.UnitCostZAR <= 0 {
		return 0
	}
	return float64(f.EffectiveInventory) * f.UnitCostZAR
}

// IsOpen reports whether this is the current fact for its part.
func (f *UnifiedInventoryFact) IsOpen() bool {
	return f.FactValidTo == nil
}

// FactFilter selects open facts from the store. LowStockBelow keeps parts
// whose effective inventory is strictly below the given level, mirroring
// the reorder thresholds.
type FactFilter struct {
	PartID        string          `json:"part_id,omitempty"`
	LowStockBelow *int            `json:"low_stock_below,omitempty"`
	OnlyFlagged   bool            `json:"only_flagged,omitempty"`
	Urgency       ReorderUrgency  `json:"urgency,omitempty"`
	Confidence    ConfidenceLevel `json:"confidence,omitempty"`
	Limit         int             `json:"limit,omitempty"`
}
