package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
)

// Discard is an event the aggregator could not attribute to a source
// category. Discards are surfaced to the dead-letter queue rather than
// dropped silently.
type Discard struct {
	Event  model.InventoryEvent
	Reason string
}

// partEvents holds one part's events split by source category.
type partEvents struct {
	warehouse []model.InventoryEvent
	logistics []model.InventoryEvent
}

// Aggregator folds the normalized event stream into one unified fact per
// part: semantic resolution, reorder recommendation, confidence tier, and
// the validity window.
type Aggregator struct {
	resolver   *Resolver
	thresholds config.ThresholdConfig
	workers    int
	now        func() time.Time
}

// NewAggregator returns an Aggregator resolving up to workers parts
// concurrently.
func NewAggregator(resolver *Resolver, thresholds config.ThresholdConfig, workers int) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{
		resolver:   resolver,
		thresholds: thresholds,
		workers:    workers,
		now:        time.Now,
	}
}

// Aggregate groups events by part and source category and resolves each
// part independently. Parts are resolved in parallel; each fact is written
// by exactly one worker. Every fact carries the same ValidFrom instant, so
// re-running over identical input produces identical facts. The returned
// error is only ever context cancellation.
func (a *Aggregator) Aggregate(ctx context.Context, events []model.InventoryEvent) ([]model.UnifiedInventoryFact, []Discard, error) {
	groups := make(map[string]*partEvents)
	var discards []Discard

	for _, ev := range events {
		var reason string
		switch {
		case ev.PartID == "":
			reason = "missing part id"
		case ev.SourceKind != model.SourceKindWarehouse && ev.SourceKind != model.SourceKindLogistics:
			reason = fmt.Sprintf("unattributable source kind %q", ev.SourceKind)
		}
		if reason != "" {
			discards = append(discards, Discard{Event: ev, Reason: reason})
			continue
		}

		group, ok := groups[ev.PartID]
		if !ok {
			group = &partEvents{}
			groups[ev.PartID] = group
		}
		if ev.SourceKind == model.SourceKindWarehouse {
			group.warehouse = append(group.warehouse, ev)
		} else {
			group.logistics = append(group.logistics, ev)
		}
	}

	partIDs := make([]string, 0, len(groups))
	for partID := range groups {
		partIDs = append(partIDs, partID)
	}
	sort.Strings(partIDs)

	validFrom := a.now().UTC()
	facts := make([]model.UnifiedInventoryFact, len(partIDs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, partID := range partIDs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			group := groups[partID]
			fact := a.resolver.Resolve(group.warehouse, group.logistics)
			fact.PartID = partID
			if fact.PartName == "" {
				fact.PartName = "Unknown"
			}
			fact.Reorder = a.reorderAdvice(fact.EffectiveInventory, fact.HasInconsistency)
			fact.ConfidenceLevel = assessConfidence(fact.DataReliabilityIndex, fact.HasInconsistency, a.thresholds)
			fact.FactValidFrom = validFrom
			facts[i] = fact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return facts, discards, nil
}

// reorderAdvice applies the rule ladder. Inconsistency outranks every
// quantity threshold: a part with suspected shadow stock is never
// auto-ordered, whatever its effective inventory says.
func (a *Aggregator) reorderAdvice(effective int, inconsistent bool) model.ReorderAdvice {
	if inconsistent {
		return model.ReorderAdvice{
			Urgency:   model.UrgencyManualReview,
			Reasoning: "Data inconsistency detected - requires human verification",
		}
	}

	switch {
	case effective < a.thresholds.UrgentBelow:
		return model.ReorderAdvice{
			ShouldReorder: boolPtr(true),
			Urgency:       model.UrgencyUrgent,
			Reasoning:     fmt.Sprintf("Critical stock level (%d units)", effective),
		}
	case effective < a.thresholds.ReorderBelow:
		return model.ReorderAdvice{
			ShouldReorder: boolPtr(true),
			Urgency:       model.UrgencyRecommended,
			Reasoning:     fmt.Sprintf("Below optimal level (%d units)", effective),
		}
	default:
		return model.ReorderAdvice{
			ShouldReorder: boolPtr(false),
			Urgency:       model.UrgencyNone,
			Reasoning:     fmt.Sprintf("Adequate stock (%d units)", effective),
		}
	}
}

// assessConfidence grades a fact for downstream consumers. Inconsistency or
// low reliability pins the grade to low regardless of the other.
func assessConfidence(reliability float64, inconsistent bool, thresholds config.ThresholdConfig) model.ConfidenceLevel {
	switch {
	case inconsistent || reliability < thresholds.MinReliability:
		return model.ConfidenceLow
	case reliability >= thresholds.HighConfidence:
		return model.ConfidenceHigh
	default:
		return model.ConfidenceMedium
	}
}

func boolPtr(b bool) *bool { return &b }
