package resilience

import (
	"time"

	"github.com/aura-supply/recon-cli/internal/model"
)

// DLQEntry is a record the pipeline could not place: an event whose source
// category is unattributable, or a row that failed persistent validation.
// Entries are kept for inspection and manual replay rather than dropped.
type DLQEntry struct {
	ID        string               `json:"id"`
	Event     model.InventoryEvent `json:"event"`
	Reason    string               `json:"reason"`
	ErrorType string               `json:"error_type"` // "transient" or "permanent"
	RunID     string               `json:"run_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	RunID     string `json:"run_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
