// Package agent is the consumption side of the reconciled inventory: a
// safety gate that decides whether an autonomous agent may act on a part's
// fact, and an optional advisor that turns verdicts into natural-language
// answers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/store"
)

// FactSource is the slice of the store the gate reads. It never writes.
type FactSource interface {
	GetOpenFact(ctx context.Context, partID string) (*model.UnifiedInventoryFact, error)
}

// Gate enforces the safety checks that stand between a reconciled fact and
// an autonomous decision. Checks run in fixed precedence: missing fact,
// then reliability, then inconsistency, then staleness. A fact that is both
// unreliable and inconsistent blocks on reliability; inconsistency outranks
// staleness because it is the more actionable risk.
type Gate struct {
	facts          FactSource
	minReliability float64
	maxDataAge     time.Duration
	now            func() time.Time
}

// NewGate returns a Gate reading open facts from facts.
func NewGate(facts FactSource, thresholds config.ThresholdConfig) *Gate {
	return &Gate{
		facts:          facts,
		minReliability: thresholds.MinReliability,
		maxDataAge:     thresholds.MaxDataAge(),
		now:            time.Now,
	}
}

// Evaluate runs the safety ladder for one part. question rides along for
// logging and downstream narration; the gate never parses it. A missing
// part yields a BLOCKED verdict, not an error; errors mean the store itself
// failed and the caller cannot tell whether the part exists.
func (g *Gate) Evaluate(ctx context.Context, partID, question string) (*model.SafetyVerdict, error) {
	fact, err := g.facts.GetOpenFact(ctx, partID)
	if err != nil && !errors.Is(err, store.ErrFactNotFound) {
		return nil, eris.Wrapf(err, "gate: load fact for %s", partID)
	}

	verdict := g.decide(partID, fact)
	zap.L().Debug("gate: evaluated query",
		zap.String("part_id", partID),
		zap.String("question", question),
		zap.String("status", string(verdict.Status)),
		zap.String("reason_code", string(verdict.ReasonCode)),
	)
	return verdict, nil
}

func (g *Gate) decide(partID string, fact *model.UnifiedInventoryFact) *model.SafetyVerdict {
	if fact == nil {
		return &model.SafetyVerdict{
			Status:            model.VerdictBlocked,
			ReasonCode:        model.ReasonNoData,
			Reason:            fmt.Sprintf("No data found for part %s", partID),
			RecommendedAction: "Verify part_id is correct or add part to system",
		}
	}

	checks := model.VerdictChecks{
		IsFresh:         g.fresh(fact),
		IsReliable:      fact.DataReliabilityIndex >= g.minReliability,
		HasConflicts:    fact.HasInconsistency,
		ConfidenceLevel: fact.ConfidenceLevel,
	}

	if !checks.IsReliable {
		return &model.SafetyVerdict{
			Status:     model.VerdictBlocked,
			ReasonCode: model.ReasonLowReliability,
			Reason: fmt.Sprintf("Data reliability (%.1f%%) below threshold (%.0f%%)",
				fact.DataReliabilityIndex*100, g.minReliability*100),
			RecommendedAction: "Request fresh warehouse count or verify logistics data",
			// The fact stays attached so a human can still inspect it.
			Fact:   fact,
			Checks: checks,
		}
	}

	if checks.HasConflicts {
		return &model.SafetyVerdict{
			Status:            model.VerdictWarning,
			ReasonCode:        model.ReasonInconsistency,
			Reason:            "Shadow stock detected - possible unprocessed delivery",
			RecommendedAction: "Verify with warehouse supervisor before ordering",
			Fact:              fact,
			Confidence:        model.ConfidenceLow,
			Warnings: []string{
				"Recent delivery may not be reflected in physical count",
				"Effective inventory calculation may be understated",
			},
			Checks: checks,
		}
	}

	if !checks.IsFresh {
		return &model.SafetyVerdict{
			Status:            model.VerdictWarning,
			ReasonCode:        model.ReasonStaleData,
			Reason:            fmt.Sprintf("Data is stale (last updated: %s)", shelfUpdatedAt(fact)),
			RecommendedAction: "Consider requesting fresh warehouse count",
			Fact:              fact,
			Confidence:        fact.ConfidenceLevel,
			Warnings:          []string{"Data may not reflect recent changes"},
			Checks:            checks,
		}
	}

	return &model.SafetyVerdict{
		Status:     model.VerdictSafe,
		ReasonCode: model.ReasonOK,
		Fact:       fact,
		Confidence: fact.ConfidenceLevel,
		Reasoning:  renderReasoning(fact),
		Checks:     checks,
	}
}

// fresh fails closed: no usable shelf timestamp means not fresh.
func (g *Gate) fresh(fact *model.UnifiedInventoryFact) bool {
	if fact.ShelfLastUpdated == nil {
		return false
	}
	return g.now().Sub(*fact.ShelfLastUpdated) < g.maxDataAge
}

func shelfUpdatedAt(fact *model.UnifiedInventoryFact) string {
	if fact.ShelfLastUpdated == nil {
		return "unknown"
	}
	return fact.ShelfLastUpdated.UTC().Format("2006-01-02 15:04:05")
}

// renderReasoning builds the narrative a SAFE verdict hands to the caller.
func renderReasoning(fact *model.UnifiedInventoryFact) string {
	var b strings.Builder
	b.WriteString("Based on current data:\n")
	fmt.Fprintf(&b, "- Effective inventory: %d units\n", fact.EffectiveInventory)
	fmt.Fprintf(&b, "- Data reliability: %.2f%%\n", fact.DataReliabilityIndex*100)
	fmt.Fprintf(&b, "- %s\n", fact.SemanticContext)
	fmt.Fprintf(&b, "\nRecommendation: %s", fact.Reorder.Reasoning)
	return b.String()
}
