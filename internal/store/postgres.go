package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/aura-supply/recon-cli/internal/db"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool. It is the backend for shared
// deployments where several planners and the API server read the same fact
// table concurrently.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":      `INSERT INTO pipeline_runs (id, status, started_at) VALUES ($1, $2, $3)`,
	"finish_run":      `UPDATE pipeline_runs SET status = $1, counts = $2, error = $3, finished_at = $4 WHERE id = $5`,
	"get_run":         `SELECT id, status, counts, error, started_at, finished_at FROM pipeline_runs WHERE id = $1`,
	"get_open_fact":   `SELECT ` + factColumns + ` FROM inventory_facts WHERE part_id = $1 AND fact_valid_to IS NULL`,
	"close_open_fact": `UPDATE inventory_facts SET fact_valid_to = $1 WHERE part_id = $2 AND fact_valid_to IS NULL`,
	"enqueue_dlq":     `INSERT INTO dead_letter_queue (id, run_id, event, reason, error_type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"count_dlq":       `SELECT COUNT(*) FROM dead_letter_queue`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	source_system TEXT NOT NULL,
	source_kind   TEXT NOT NULL,
	part_id       TEXT NOT NULL,
	ingested_at   TIMESTAMPTZ NOT NULL,
	payload       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory_events (
	event_id           TEXT PRIMARY KEY,
	run_id             TEXT NOT NULL,
	event_type         TEXT NOT NULL,
	part_id            TEXT NOT NULL,
	part_name          TEXT NOT NULL DEFAULT '',
	quantity           INTEGER NOT NULL,
	quantity_semantic  TEXT NOT NULL,
	unit_cost_zar      DOUBLE PRECISION NOT NULL DEFAULT 0,
	event_time         TIMESTAMPTZ NOT NULL,
	ingested_at        TIMESTAMPTZ NOT NULL,
	timestamp_degraded BOOLEAN NOT NULL DEFAULT false,
	lateness_hours     DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_late_arrival    BOOLEAN NOT NULL DEFAULT false,
	source_system      TEXT NOT NULL,
	source_kind        TEXT NOT NULL,
	reliability        DOUBLE PRECISION NOT NULL,
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
	data_reliability_index DOUBLE PRECISION NOT NULL,
	semantic_context       TEXT NOT NULL DEFAULT '',
	has_inconsistency      BOOLEAN NOT NULL DEFAULT false,
	confidence_level       TEXT NOT NULL,
	should_reorder         BOOLEAN,
	reorder_urgency        TEXT NOT NULL,
	reorder_reasoning      TEXT NOT NULL DEFAULT '',
	unit_cost_zar          DOUBLE PRECISION NOT NULL DEFAULT 0,
	shelf_last_updated     TIMESTAMPTZ,
	fact_valid_from        TIMESTAMPTZ NOT NULL,
	fact_valid_to          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	counts      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	event      JSONB NOT NULL,
	reason     TEXT NOT NULL,
	error_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_records_run ON raw_records(run_id);
CREATE INDEX IF NOT EXISTS idx_events_part ON inventory_events(part_id);
CREATE INDEX IF NOT EXISTS idx_events_run ON inventory_events(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_open_part ON inventory_facts(part_id) WHERE fact_valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_facts_part ON inventory_facts(part_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// rawRecordColumns and eventColumnNames drive the COPY and bulk upsert paths
// and must match the migration's column order.
var rawRecordColumns = []string{
	"id", "run_id", "source_system", "source_kind", "part_id", "ingested_at", "payload",
}

var eventColumnNames = []string{
	"event_id", "run_id", "event_type", "part_id", "part_name", "quantity", "quantity_semantic",
	"unit_cost_zar", "event_time", "ingested_at", "timestamp_degraded", "lateness_hours",
	"is_late_arrival", "source_system", "source_kind", "reliability", "status", "supplier",
	"warehouse_location", "estimated_arrival", "shipment_id",
}

func (s *PostgresStore) InsertRawRecords(ctx context.Context, runID string, records []model.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal raw record")
		}
		rows = append(rows, []any{
			uuid.New().String(), runID, rec.SourceSystem, string(rec.SourceKind),
			rec.PartID, rec.IngestedAt.UTC(), payload,
		})
	}

	// Raw records get fresh IDs on every run, so COPY never conflicts.
	n, err := db.CopyFrom(ctx, s.pool, "raw_records", rawRecordColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert raw records")
	}
	return int(n), nil
}

func (s *PostgresStore) CountRawRecords(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_records`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count raw records")
}

func (s *PostgresStore) InsertEvents(ctx context.Context, runID string, events []model.InventoryEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []any{
			ev.EventID, runID, string(ev.EventType), ev.PartID, ev.PartName, ev.Quantity,
			string(ev.QuantitySemantic), ev.UnitCostZAR, ev.EventTime.UTC(), ev.IngestedAt.UTC(),
			ev.TimestampDegraded, ev.LatenessHours, ev.IsLateArrival,
			ev.SourceSystem, string(ev.SourceKind), ev.Reliability,
			ev.Status, ev.Supplier, ev.WarehouseLocation, ev.EstimatedArrival, ev.ShipmentID,
		})
	}

	// Event IDs are deterministic, so re-ingesting a batch skips rows that
	// already landed and the count reflects only new events.
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "inventory_events",
		Columns:      eventColumnNames,
		ConflictKeys: []string{"event_id"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert events")
	}
	return int(n), nil
}

func (s *PostgresStore) CountEvents(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_events`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count events")
}

func (s *PostgresStore) ReplaceFacts(ctx context.Context, facts []model.UnifiedInventoryFact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin facts")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, f := range facts {
		// Close the currently-open fact, if any, at the successor's start.
		_, err := tx.Exec(ctx,
			`UPDATE inventory_facts SET fact_valid_to = $1 WHERE part_id = $2 AND fact_valid_to IS NULL`,
			f.FactValidFrom.UTC(), f.PartID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: close fact for %s", f.PartID)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO inventory_facts
			 (id, part_id, part_name, qty_on_shelf, in_transit_qty, shadow_stock_qty, effective_inventory,
			  data_reliability_index, semantic_context, has_inconsistency, confidence_level,
			  should_reorder, reorder_urgency, reorder_reasoning, unit_cost_zar,
			  shelf_last_updated, fact_valid_from, fact_valid_to)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NULL)`,
			uuid.New().String(), f.PartID, f.PartName, f.QtyOnShelf, f.InTransitQty,
			f.ShadowStockQty, f.EffectiveInventory, f.DataReliabilityIndex, f.SemanticContext,
			f.HasInconsistency, string(f.ConfidenceLevel), nullBool(f.Reorder.ShouldReorder),
			string(f.Reorder.Urgency), f.Reorder.Reasoning, f.UnitCostZAR,
			nullTime(f.ShelfLastUpdated), f.FactValidFrom.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert fact for %s", f.PartID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit facts")
}

func (s *PostgresStore) GetOpenFact(ctx context.Context, partID string) (*model.UnifiedInventoryFact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+factColumns+` FROM inventory_facts WHERE part_id = $1 AND fact_valid_to IS NULL`,
		partID,
	)
	f, err := scanFact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFactNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get open fact %s", partID)
	}
	return f, nil
}

func (s *PostgresStore) ListOpenFacts(ctx context.Context, filter model.FactFilter) ([]model.UnifiedInventoryFact, error) {
	query := `SELECT ` + factColumns + ` FROM inventory_facts WHERE fact_valid_to IS NULL`
	var args []any
	argIdx := 1

	if filter.PartID != "" {
		query += fmt.Sprintf(` AND part_id = $%d`, argIdx)
		args = append(args, filter.PartID)
		argIdx++
	}
	if filter.LowStockBelow != nil {
		query += fmt.Sprintf(` AND effective_inventory < $%d`, argIdx)
		args = append(args, *filter.LowStockBelow)
		argIdx++
	}
	if filter.OnlyFlagged {
		query += ` AND has_inconsistency`
	}
	if filter.Urgency != "" {
		query += fmt.Sprintf(` AND reorder_urgency = $%d`, argIdx)
		args = append(args, string(filter.Urgency))
		argIdx++
	}
	if filter.Confidence != "" {
		query += fmt.Sprintf(` AND confidence_level = $%d`, argIdx)
		args = append(args, string(filter.Confidence))
		argIdx++
	}
	query += ` ORDER BY part_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open facts")
	}
	defer rows.Close()

	var facts []model.UnifiedInventoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list open facts iterate")
}

func (s *PostgresStore) ListFactHistory(ctx context.Context, partID string, limit int) ([]model.UnifiedInventoryFact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+factColumns+` FROM inventory_facts WHERE part_id = $1 ORDER BY fact_valid_from DESC LIMIT $2`,
		partID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fact history %s", partID)
	}
	defer rows.Close()

	var facts []model.UnifiedInventoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: fact history iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counts")
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished

	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, counts = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(run.Status), countsJSON, run.Error, finished, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, counts, error, started_at, finished_at FROM pipeline_runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, status, counts, error, started_at, finished_at FROM pipeline_runs WHERE true`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq event")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (id, run_id, event, reason, error_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RunID, eventJSON, entry.Reason, entry.ErrorType, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, event, reason, error_type, created_at FROM dead_letter_queue WHERE true`
	var args []any
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var eventJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &eventJSON, &e.Reason, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(eventJSON, &e.Event); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq event")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
