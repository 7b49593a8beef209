package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"agritrace/internal/logger"
	"agritrace/internal/models"
)

const uniqueViolationCode = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS batch_projections (
	batch_id              TEXT PRIMARY KEY,
	data                  JSONB NOT NULL,
	last_applied_sequence BIGINT NOT NULL DEFAULT 0,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS event_log (
	delivery_id     TEXT PRIMARY KEY,
	ledger_sequence BIGINT NOT NULL,
	batch_id        TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	observed_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS event_log_batch_idx ON event_log (batch_id, ledger_sequence);

CREATE TABLE IF NOT EXISTS sync_checkpoint (
	id              SMALLINT PRIMARY KEY CHECK (id = 1),
	resume_sequence BIGINT NOT NULL
);
`

// PostgresStore implements Store on a pgx connection pool. The atomic apply
// unit is a transaction holding a row lock on the batch's projection, so two
// concurrent deliveries for the same batch serialize instead of racing.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresStore connects the pool and bootstraps the schema.
func NewPostgresStore(ctx context.Context, dsn string, minConns, maxConns int, log *logger.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MinConns = int32(minConns)
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	log.Info("postgres projection store ready", "min_conns", minConns, "max_conns", maxConns)
	return &PostgresStore{pool: pool, logger: log}, nil
}

func (s *PostgresStore) ApplyEvent(ctx context.Context, rec *models.EventRecord, reduce ReduceFunc) (*models.BatchProjection, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Dedup inside the transaction. The projection row lock below
	// serializes same-batch deliveries; a same-delivery race across
	// batchless creations falls through to the audit insert's primary
	// key and surfaces as a unique violation.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_log WHERE delivery_id = $1)`,
		rec.DeliveryID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return nil, ErrDuplicateDelivery
	}

	prior, err := loadForUpdate(ctx, tx, rec.BatchID)
	if err != nil {
		return nil, err
	}

	next, err := reduce(prior)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode projection: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO batch_projections (batch_id, data, last_applied_sequence, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id) DO UPDATE
		SET data = EXCLUDED.data,
		    last_applied_sequence = EXCLUDED.last_applied_sequence,
		    updated_at = EXCLUDED.updated_at`,
		next.BatchID, data, int64(next.LastAppliedSequence), next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert projection: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_log (delivery_id, ledger_sequence, batch_id, event_type, payload, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.DeliveryID, int64(rec.LedgerSequence), rec.BatchID, string(rec.EventType), []byte(rec.Payload), rec.ObservedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrDuplicateDelivery
		}
		return nil, fmt.Errorf("append audit record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply tx: %w", err)
	}
	return next, nil
}

func loadForUpdate(ctx context.Context, tx pgx.Tx, batchID string) (*models.BatchProjection, error) {
	var data []byte
	err := tx.QueryRow(ctx,
		`SELECT data FROM batch_projections WHERE batch_id = $1 FOR UPDATE`,
		batchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}
	var p models.BatchProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProjection(ctx context.Context, batchID string) (*models.BatchProjection, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM batch_projections WHERE batch_id = $1`,
		batchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	var p models.BatchProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjections(ctx context.Context, limit int) ([]*models.BatchProjection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM batch_projections ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list projections: %w", err)
	}
	defer rows.Close()

	var out []*models.BatchProjection
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		var p models.BatchProjection
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode projection: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EventLog(ctx context.Context, batchID string) ([]*models.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT delivery_id, ledger_sequence, event_type, payload, observed_at
		FROM event_log WHERE batch_id = $1
		ORDER BY ledger_sequence, observed_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []*models.EventRecord
	for rows.Next() {
		rec := &models.EventRecord{BatchID: batchID}
		var seq int64
		var eventType string
		var payload []byte
		var observedAt time.Time
		if err := rows.Scan(&rec.DeliveryID, &seq, &eventType, &payload, &observedAt); err != nil {
			return nil, fmt.Errorf("scan event record: %w", err)
		}
		rec.LedgerSequence = uint64(seq)
		rec.EventType = models.EventType(eventType)
		rec.Payload = payload
		rec.ObservedAt = observedAt
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Checkpoint(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT resume_sequence FROM sync_checkpoint WHERE id = 1), 0)`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query checkpoint: %w", err)
	}
	return uint64(seq), nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, seq uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_checkpoint (id, resume_sequence) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE
		SET resume_sequence = GREATEST(sync_checkpoint.resume_sequence, EXCLUDED.resume_sequence)`,
		int64(seq))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.logger.Info("closing postgres projection store")
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)
