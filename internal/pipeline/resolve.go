package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/aura-supply/recon-cli/internal/model"
)

// Resolver reconciles the two quantity semantics for a single part:
// warehouse counts measure units on the shelf, logistics feeds measure
// units on the road. The output is one unified view with an effective
// inventory figure an agent can trust, or an inconsistency flag when it
// cannot.
type Resolver struct {
	shadowWindow         time.Duration
	logisticsReliability float64
	now                  func() time.Time
}

// NewResolver returns a Resolver. shadowWindow bounds how long a delivered
// shipment counts as "recent" in shadow-stock detection;
// logisticsReliability is the fixed trust weight for in-transit quantities.
func NewResolver(shadowWindow time.Duration, logisticsReliability float64) *Resolver {
	return &Resolver{
		shadowWindow:         shadowWindow,
		logisticsReliability: logisticsReliability,
		now:                  time.Now,
	}
}

// Resolve produces the unified inventory view for one part from its
// warehouse and logistics events. It is a pure function of its inputs and
// is total: empty or partial input yields zero contributions, never an
// error. Recommendation, confidence, and validity fields are left for the
// aggregator.
func (r *Resolver) Resolve(warehouse, logistics []model.InventoryEvent) model.UnifiedInventoryFact {
	var fact model.UnifiedInventoryFact

	// Latest physical count wins; older counts are superseded snapshots.
	var shelfReliability float64
	if shelf := latestShelfCount(warehouse); shelf != nil {
		fact.PartID = shelf.PartID
		fact.PartName = shelf.PartName
		fact.QtyOnShelf = shelf.Quantity
		fact.UnitCostZAR = shelf.UnitCostZAR
		shelfReliability = shelf.Reliability
		if !shelf.TimestampDegraded {
			ts := shelf.EventTime
			fact.ShelfLastUpdated = &ts
		}
	}
	if fact.PartID == "" && len(logistics) > 0 {
		fact.PartID = logistics[0].PartID
	}

	// In-transit counts only shipments still on the road. Delivered
	// shipments are tallied separately as shadow-stock candidates.
	var shadowQty int
	for i := range logistics {
		switch logistics[i].Status {
		case model.StatusInTransit:
			fact.InTransitQty += logistics[i].Quantity
		case model.StatusDelivered:
			shadowQty += logistics[i].Quantity
		}
	}

	fact.HasInconsistency = r.hasShadowStock(fact.ShelfLastUpdated, logistics)
	if fact.HasInconsistency {
		fact.ShadowStockQty = shadowQty
	}

	// Shadow stock is reported but never trusted: units marked delivered
	// stay out of effective inventory until a count confirms them.
	fact.EffectiveInventory = fact.QtyOnShelf + fact.InTransitQty
	fact.DataReliabilityIndex = r.reliabilityIndex(fact.QtyOnShelf, fact.InTransitQty, shelfReliability)
	fact.SemanticContext = semanticContext(fact.QtyOnShelf, fact.InTransitQty, fact.ShadowStockQty, fact.HasInconsistency)

	return fact
}

// hasShadowStock reports whether any delivered shipment is missing from the
// latest shelf count. A count taken at or before the delivery instant
// cannot include the delivered units, so equality flags. Delivered events
// whose own timestamps were degraded are skipped: a fabricated timestamp is
// not evidence. Without a usable shelf timestamp no claim is made either
// way.
func (r *Resolver) hasShadowStock(shelfAt *time.Time, logistics []model.InventoryEvent) bool {
	if shelfAt == nil {
		return false
	}
	for i := range logistics {
		ev := &logistics[i]
		if ev.Status != model.StatusDelivered || ev.TimestampDegraded {
			continue
		}
		if !shelfAt.After(ev.EventTime) {
			return true
		}
		// Recent delivery with a shelf count that predates it.
		if r.now().Sub(ev.EventTime) < r.shadowWindow && shelfAt.Before(ev.EventTime) {
			return true
		}
	}
	return false
}

// reliabilityIndex blends source trust weighted by how much stock each
// source vouches for. With no quantity on either side it falls back to the
// warehouse's own score, then to 0.5 (no information). Shadow-stock
// detection never feeds in: catching an unconfirmed delivery is the system
// working, not a data defect.
func (r *Resolver) reliabilityIndex(onShelf, inTransit int, shelfReliability float64) float64 {
	total := onShelf + inTransit
	var index float64
	switch {
	case total > 0:
		index = (float64(onShelf)*shelfReliability + float64(inTransit)*r.logisticsReliability) / float64(total)
	case shelfReliability > 0:
		index = shelfReliability
	default:
		index = 0.5
	}
	return math.Round(index*1000) / 1000
}

// latestShelfCount returns the warehouse event with the greatest business
// timestamp, ties broken by event ID so the choice is deterministic.
func latestShelfCount(warehouse []model.InventoryEvent) *model.InventoryEvent {
	var latest *model.InventoryEvent
	for i := range warehouse {
		ev := &warehouse[i]
		if latest == nil ||
			ev.EventTime.After(latest.EventTime) ||
			(ev.EventTime.Equal(latest.EventTime) && ev.EventID > latest.EventID) {
			latest = ev
		}
	}
	return latest
}

// semanticContext renders the narrative explaining what the quantities
// mean. It is the explanation surface agents quote back to humans, so it
// must name the same three figures the fact carries.
func semanticContext(onShelf, inTransit, shadowQty int, hasShadow bool) string {
	if hasShadow && shadowQty > 0 {
		msg := fmt.Sprintf("Inventory includes %d confirmed on-shelf units", onShelf)
		if inTransit > 0 {
			msg += fmt.Sprintf(" and %d units in-transit", inTransit)
		}
		msg += fmt.Sprintf(". WARNING: %d units marked as DELIVERED but NOT yet counted in warehouse stock (shadow stock)", shadowQty)
		return msg
	}
	if inTransit > 0 {
		return fmt.Sprintf("Inventory includes %d confirmed on-shelf units and %d units currently in-transit (expected within 48 hours).", onShelf, inTransit)
	}
	return fmt.Sprintf("Inventory reflects %d confirmed on-shelf units only.", onShelf)
}
