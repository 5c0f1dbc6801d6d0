package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend: a single file, no server, good enough for one warehouse's part
// catalog.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	source_system TEXT NOT NULL,
	source_kind   TEXT NOT NULL,
	part_id       TEXT NOT NULL,
	ingested_at   DATETIME NOT NULL,
	payload       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory_events (
	event_id           TEXT PRIMARY KEY,
	run_id             TEXT NOT NULL,
	event_type         TEXT NOT NULL,
	part_id            TEXT NOT NULL,
	part_name          TEXT NOT NULL DEFAULT '',
	quantity           INTEGER NOT NULL,
	quantity_semantic  TEXT NOT NULL,
	unit_cost_zar      REAL NOT NULL DEFAULT 0,
	event_time         DATETIME NOT NULL,
	ingested_at        DATETIME NOT NULL,
	timestamp_degraded INTEGER NOT NULL DEFAULT 0,
	lateness_hours     REAL NOT NULL DEFAULT 0,
	is_late_arrival    INTEGER NOT NULL DEFAULT 0,
	source_system      TEXT NOT NULL,
	source_kind        TEXT NOT NULL,
	reliability        REAL NOT NULL,
	status             TEXT NOT NULL DEFAULT '',
	supplier           TEXT NOT NULL DEFAULT '',
	warehouse_location TEXT NOT NULL DEFAULT '',
	estimated_arrival  TEXT NOT NULL DEFAULT '',
	shipment_id        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory_facts (
	id                     TEXT PRIMARY KEY,
	part_id                TEXT NOT NULL,
	part_name              TEXT NOT NULL DEFAULT '',
	qty_on_shelf           INTEGER NOT NULL,
	in_transit_qty         INTEGER NOT NULL,
	shadow_stock_qty       INTEGER NOT NULL,
	effective_inventory    INTEGER NOT NULL,
	data_reliability_index REAL NOT NULL,
	semantic_context       TEXT NOT NULL DEFAULT '',
	has_inconsistency      INTEGER NOT NULL DEFAULT 0,
	confidence_level       TEXT NOT NULL,
	should_reorder         INTEGER,
	reorder_urgency        TEXT NOT NULL,
	reorder_reasoning      TEXT NOT NULL DEFAULT '',
	unit_cost_zar          REAL NOT NULL DEFAULT 0,
	shelf_last_updated     DATETIME,
	fact_valid_from        DATETIME NOT NULL,
	fact_valid_to          DATETIME
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	counts      TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	event      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error_type TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_records_run ON raw_records(run_id);
CREATE INDEX IF NOT EXISTS idx_events_part ON inventory_events(part_id);
CREATE INDEX IF NOT EXISTS idx_events_run ON inventory_events(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_open_part ON inventory_facts(part_id) WHERE fact_valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_facts_part ON inventory_facts(part_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRawRecords(ctx context.Context, runID string, records []model.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin raw records")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal raw record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO raw_records (id, run_id, source_system, source_kind, part_id, ingested_at, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, rec.SourceSystem, string(rec.SourceKind),
			rec.PartID, rec.IngestedAt.UTC(), string(payload),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert raw record for %s", rec.PartID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit raw records")
	}
	return len(records), nil
}

func (s *SQLiteStore) CountRawRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_records`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count raw records")
}

func (s *SQLiteStore) InsertEvents(ctx context.Context, runID string, events []model.InventoryEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin events")
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := 0
	for _, ev := range events {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO inventory_events
			 (event_id, run_id, event_type, part_id, part_name, quantity, quantity_semantic, unit_cost_zar,
			  event_time, ingested_at, timestamp_degraded, lateness_hours, is_late_arrival,
			  source_system, source_kind, reliability, status, supplier, warehouse_location, estimated_arrival, shipment_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID, runID, string(ev.EventType), ev.PartID, ev.PartName, ev.Quantity,
			string(ev.QuantitySemantic), ev.UnitCostZAR, ev.EventTime.UTC(), ev.IngestedAt.UTC(),
			ev.TimestampDegraded, ev.LatenessHours, ev.IsLateArrival,
			ev.SourceSystem, string(ev.SourceKind), ev.Reliability,
			ev.Status, ev.Supplier, ev.WarehouseLocation, ev.EstimatedArrival, ev.ShipmentID,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert event %s", ev.EventID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit events")
	}
	return inserted, nil
}

func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_events`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count events")
}

func (s *SQLiteStore) ReplaceFacts(ctx context.Context, facts []model.UnifiedInventoryFact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin facts")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range facts {
		// Close the currently-open fact, if any, at the successor's start.
		_, err := tx.ExecContext(ctx,
			`UPDATE inventory_facts SET fact_valid_to = ? WHERE part_id = ? AND fact_valid_to IS NULL`,
			f.FactValidFrom.UTC(), f.PartID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: close fact for %s", f.PartID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory_facts
			 (id, part_id, part_name, qty_on_shelf, in_transit_qty, shadow_stock_qty, effective_inventory,
			  data_reliability_index, semantic_context, has_inconsistency, confidence_level,
			  should_reorder, reorder_urgency, reorder_reasoning, unit_cost_zar,
			  shelf_last_updated, fact_valid_from, fact_valid_to)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			uuid.New().String(), f.PartID, f.PartName, f.QtyOnShelf, f.InTransitQty,
			f.ShadowStockQty, f.EffectiveInventory, f.DataReliabilityIndex, f.SemanticContext,
			f.HasInconsistency, string(f.ConfidenceLevel), nullBool(f.Reorder.ShouldReorder),
			string(f.Reorder.Urgency), f.Reorder.Reasoning, f.UnitCostZAR,
			nullTime(f.ShelfLastUpdated), f.FactValidFrom.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert fact for %s", f.PartID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit facts")
}

const factColumns = `part_id, part_name, qty_on_shelf, in_transit_qty, shadow_stock_qty, effective_inventory,
	data_reliability_index, semantic_context, has_inconsistency, confidence_level,
	should_reorder, reorder_urgency, reorder_reasoning, unit_cost_zar,
	shelf_last_updated, fact_valid_from, fact_valid_to`

func (s *SQLiteStore) GetOpenFact(ctx context.Context, partID string) (*model.UnifiedInventoryFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM inventory_facts WHERE part_id = ? AND fact_valid_to IS NULL`,
		partID,
	)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, ErrFactNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get open fact %s", partID)
	}
	return f, nil
}

func (s *SQLiteStore) ListOpenFacts(ctx context.Context, filter model.FactFilter) ([]model.UnifiedInventoryFact, error) {
	query := `SELECT ` + factColumns + ` FROM inventory_facts WHERE fact_valid_to IS NULL`
	var args []any

	if filter.PartID != "" {
		query += ` AND part_id = ?`
		args = append(args, filter.PartID)
	}
	if filter.LowStockBelow != nil {
		query += ` AND effective_inventory < ?`
		args = append(args, *filter.LowStockBelow)
	}
	if filter.OnlyFlagged {
		query += ` AND has_inconsistency = 1`
	}
	if filter.Urgency != "" {
		query += ` AND reorder_urgency = ?`
		args = append(args, string(filter.Urgency))
	}
	if filter.Confidence != "" {
		query += ` AND confidence_level = ?`
		args = append(args, string(filter.Confidence))
	}
	query += ` ORDER BY part_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open facts")
	}
	defer rows.Close()

	var facts []model.UnifiedInventoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list open facts iterate")
}

func (s *SQLiteStore) ListFactHistory(ctx context.Context, partID string, limit int) ([]model.UnifiedInventoryFact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM inventory_facts WHERE part_id = ? ORDER BY fact_valid_from DESC LIMIT ?`,
		partID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fact history %s", partID)
	}
	defer rows.Close()

	var facts []model.UnifiedInventoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: fact history iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counts")
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, counts = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), string(countsJSON), run.Error, finished, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, counts, error, started_at, finished_at FROM pipeline_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, status, counts, error, started_at, finished_at FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq event")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (id, run_id, event, reason, error_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, string(eventJSON), entry.Reason, entry.ErrorType, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, event, reason, error_type, created_at FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var eventJSON string
		if err := rows.Scan(&e.ID, &e.RunID, &eventJSON, &e.Reason, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(eventJSON), &e.Event); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq event")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// scan helpers

func scanFact(row scannable) (*model.UnifiedInventoryFact, error) {
	var f model.UnifiedInventoryFact
	var shouldReorder sql.NullBool
	var shelfUpdated, validTo sql.NullTime

	err := row.Scan(
		&f.PartID, &f.PartName, &f.QtyOnShelf, &f.InTransitQty, &f.ShadowStockQty,
		&f.EffectiveInventory, &f.DataReliabilityIndex, &f.SemanticContext,
		&f.HasInconsistency, &f.ConfidenceLevel, &shouldReorder,
		&f.Reorder.Urgency, &f.Reorder.Reasoning, &f.UnitCostZAR,
		&shelfUpdated, &f.FactValidFrom, &validTo,
	)
	if err != nil {
		return nil, err
	}

	if shouldReorder.Valid {
		f.Reorder.ShouldReorder = &shouldReorder.Bool
	}
	if shelfUpdated.Valid {
		ts := shelfUpdated.Time.UTC()
		f.ShelfLastUpdated = &ts
	}
	if validTo.Valid {
		ts := validTo.Time.UTC()
		f.FactValidTo = &ts
	}
	f.FactValidFrom = f.FactValidFrom.UTC()
	return &f, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var countsJSON sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &countsJSON, &r.Error, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	if countsJSON.Valid && countsJSON.String != "" {
		if err := json.Unmarshal([]byte(countsJSON.String), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "unmarshal run counts")
		}
	}
	if finished.Valid {
		ts := finished.Time.UTC()
		r.FinishedAt = &ts
	}
	r.StartedAt = r.StartedAt.UTC()
	return &r, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
