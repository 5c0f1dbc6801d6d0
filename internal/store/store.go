// Package store persists the medallion layers of the reconciliation
// pipeline: raw source records (bronze), normalized inventory events
// (silver), unified facts (gold), pipeline runs, and the dead-letter queue.
// Two implementations exist: embedded SQLite for single-node use and
// Postgres for shared deployments.
package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// ErrFactNotFound is returned when no open fact exists for a part. Callers
// match it with errors.Is to distinguish "part unknown" from a store
// failure.
var ErrFactNotFound = eris.New("store: fact not found")

// ErrRunNotFound is returned when a pipeline run ID does not exist.
var ErrRunNotFound = eris.New("store: run not found")

// Store defines the persistence interface for the reconciliation pipeline.
type Store interface {
	// Bronze: raw records land append-only, one batch per run.
	InsertRawRecords(ctx context.Context, runID string, records []model.RawRecord) (int, error)
	CountRawRecords(ctx context.Context) (int, error)

	// Silver: events are immutable and keyed by their deterministic ID, so
	// re-ingesting a batch inserts nothing new. The returned count is rows
	// actually inserted.
	InsertEvents(ctx context.Context, runID string, events []model.InventoryEvent) (int, error)
	CountEvents(ctx context.Context) (int, error)

	// Gold: exactly one open fact per part. ReplaceFacts closes the current
	// fact and inserts its successor in a single transaction per batch.
	ReplaceFacts(ctx context.Context, facts []model.UnifiedInventoryFact) error
	GetOpenFact(ctx context.Context, partID string) (*model.UnifiedInventoryFact, error)
	ListOpenFacts(ctx context.Context, filter model.FactFilter) ([]model.UnifiedInventoryFact, error)
	ListFactHistory(ctx context.Context, partID string, limit int) ([]model.UnifiedInventoryFact, error)

	// Runs
	CreateRun(ctx context.Context) (*model.PipelineRun, error)
	FinishRun(ctx context.Context, run *model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error)

	// Dead-letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// helpers shared by both implementations

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
