// Package pipeline reconciles inventory observations from every registered
// source into unified per-part facts: raw records land as-is, normalization
// turns them into typed events, and aggregation resolves the semantic
// conflicts between what the warehouse counted and what logistics shipped.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
	"github.com/aura-supply/recon-cli/internal/source"
	"github.com/aura-supply/recon-cli/internal/store"
)

// Escalator routes a completed run's findings to external systems.
type Escalator interface {
	Escalate(ctx context.Context, run *model.PipelineRun, facts []model.UnifiedInventoryFact) error
}

// Pipeline orchestrates one bronze-to-gold reconciliation run.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	sources    []source.Source
	normalizer *Normalizer
	aggregator *Aggregator
	escalator  Escalator
}

// New creates a Pipeline wired to the given store and sources.
func New(cfg *config.Config, st store.Store, sources []source.Source) *Pipeline {
	lateAfter := time.Duration(cfg.Thresholds.LateArrivalHours * float64(time.Hour))
	resolver := NewResolver(cfg.Thresholds.ShadowWindow(), cfg.Thresholds.LogisticsReliability)
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		sources:    sources,
		normalizer: NewNormalizer(lateAfter),
		aggregator: NewAggregator(resolver, cfg.Thresholds, cfg.Pipeline.MaxConcurrentParts),
	}
}

// WithEscalator attaches a post-run escalator.
func (p *Pipeline) WithEscalator(e Escalator) *Pipeline {
	p.escalator = e
	return p
}

// Run executes one full reconciliation: fetch every source, persist the
// bronze batch, normalize to silver events, aggregate all stored events
// into gold facts, then hand findings to the escalator. A single source
// failing is tolerated and counted; the run fails only when no source
// delivers anything.
func (p *Pipeline) Run(ctx context.Context) (*model.PipelineRun, error) {
	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting reconciliation", zap.Int("sources", len(p.sources)))

	fail := func(cause error) (*model.PipelineRun, error) {
		run.Status = model.RunStatusFailed
		run.Error = cause.Error()
		if finishErr := p.store.FinishRun(ctx, run); finishErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(finishErr))
		}
		return run, cause
	}

	// Phase timing helper.
	phase := func(name string, fn func() error) error {
		start := time.Now()
		if phaseErr := fn(); phaseErr != nil {
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Error(phaseErr),
			)
			return phaseErr
		}
		log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	if len(p.sources) == 0 {
		return fail(eris.New("pipeline: no sources configured"))
	}

	// ===== Ingest: fetch all sources in parallel =====
	run.Counts.SourcesTotal = len(p.sources)
	batches := make([][]model.RawRecord, len(p.sources))
	fetchErrs := make([]error, len(p.sources))

	_ = phase("ingest", func() error {
		g, gCtx := errgroup.WithContext(ctx)
		for i, src := range p.sources {
			g.Go(func() error {
				records, fetchErr := src.Fetch(gCtx)
				if fetchErr != nil {
					// A dead source must not take its siblings down.
					log.Warn("pipeline: source fetch failed",
						zap.String("source", src.Name()),
						zap.Error(fetchErr),
					)
					fetchErrs[i] = fetchErr
					return nil
				}
				batches[i] = records
				return nil
			})
		}
		return g.Wait()
	})

	var raw []model.RawRecord
	for _, batch := range batches {
		raw = append(raw, batch...)
	}
	for _, fetchErr := range fetchErrs {
		if fetchErr != nil {
			run.Counts.SourcesFailed++
		}
	}
	if run.Counts.SourcesFailed == len(p.sources) {
		return fail(eris.New("pipeline: all sources failed"))
	}

	// ===== Bronze: raw records land append-only =====
	if err := phase("bronze", func() error {
		n, insertErr := p.store.InsertRawRecords(ctx, run.ID, raw)
		if insertErr != nil {
			return insertErr
		}
		run.Counts.RawRecords = n
		return nil
	}); err != nil {
		return fail(eris.Wrap(err, "pipeline: persist raw records"))
	}

	// ===== Silver: normalize and persist events =====
	// Deterministic event IDs make this idempotent; Events counts only
	// rows the store had not seen before.
	events := p.normalizer.NormalizeBatch(raw)
	if err := phase("silver", func() error {
		for _, ev := range events {
			if ev.IsLateArrival {
				run.Counts.LateArrivals++
			}
		}
		inserted, insertErr := p.store.InsertEvents(ctx, run.ID, events)
		if insertErr != nil {
			return insertErr
		}
		run.Counts.Events = inserted
		return nil
	}); err != nil {
		return fail(eris.Wrap(err, "pipeline: persist events"))
	}

	// ===== Gold: aggregate this run's events into open facts =====
	// Only the batch just fetched feeds gold. Every poll restates the
	// current state of each source in full, so older stored events for the
	// same shipment or shelf are superseded snapshots; summing them again
	// would count the same stock once per poll.
	var facts []model.UnifiedInventoryFact
	var discards []Discard
	if err := phase("gold", func() error {
		var aggErr error
		facts, discards, aggErr = p.aggregator.Aggregate(ctx, events)
		if aggErr != nil {
			return aggErr
		}
		if replaceErr := p.store.ReplaceFacts(ctx, facts); replaceErr != nil {
			return replaceErr
		}
		run.Counts.Facts = len(facts)
		run.Counts.Discarded = len(discards)
		for _, fact := range facts {
			if fact.HasInconsistency {
				run.Counts.Inconsistencies++
			}
		}
		return nil
	}); err != nil {
		return fail(eris.Wrap(err, "pipeline: build facts"))
	}

	// Discarded events go to the dead letter queue for inspection and
	// replay. A DLQ write failure must not fail a run that already
	// produced facts.
	for _, d := range discards {
		entry := resilience.DLQEntry{
			Event:     d.Event,
			Reason:    d.Reason,
			ErrorType: "permanent",
			RunID:     run.ID,
		}
		if dlqErr := p.store.EnqueueDLQ(ctx, entry); dlqErr != nil {
			log.Warn("pipeline: dead letter write failed",
				zap.String("event_id", d.Event.EventID),
				zap.Error(dlqErr),
			)
		}
	}

	run.Status = model.RunStatusComplete
	if err := p.store.FinishRun(ctx, run); err != nil {
		return run, eris.Wrap(err, "pipeline: finish run")
	}

	log.Info("pipeline: reconciliation complete",
		zap.Int("raw_records", run.Counts.RawRecords),
		zap.Int("events", run.Counts.Events),
		zap.Int("facts", run.Counts.Facts),
		zap.Int("discarded", run.Counts.Discarded),
		zap.Int("late_arrivals", run.Counts.LateArrivals),
		zap.Int("inconsistencies", run.Counts.Inconsistencies),
		zap.Int("sources_failed", run.Counts.SourcesFailed),
	)

	// Escalations ride on the finished run; their failures are the
	// escalator's problem to log, not the run's to inherit.
	if p.escalator != nil {
		if escErr := p.escalator.Escalate(ctx, run, facts); escErr != nil {
			log.Warn("pipeline: escalation failed", zap.Error(escErr))
		}
	}

	return run, nil
}
