// Package source adapts external inventory feeds into raw records.
// Each adapter stamps provenance (system name, kind, reliability,
// ingestion time) on every record so downstream layers can weigh
// conflicting observations without re-deriving where they came from.
package source

import (
	"context"

	"github.com/aura-supply/recon-cli/internal/model"
)

// Source is a single external inventory feed.
type Source interface {
	// Name is the source system identifier stamped on every record.
	Name() string

	// Kind classifies the feed.
	Kind() model.SourceKind

	// Reliability is the trust weight in [0, 1] carried by this feed's
	// records.
	Reliability() float64

	// Fetch pulls the feed and returns one raw record per observation.
	Fetch(ctx context.Context) ([]model.RawRecord, error)
}
