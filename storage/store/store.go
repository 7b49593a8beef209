package store

import (
	"context"
	"errors"

	"agritrace/internal/models"
)

// ErrNotFound is returned when no projection exists for the requested batch.
var ErrNotFound = errors.New("store: projection not found")

// ErrDuplicateDelivery is returned by ApplyEvent when the event's delivery id
// is already present in the audit log. The reduce closure is not invoked and
// nothing is written.
var ErrDuplicateDelivery = errors.New("store: duplicate delivery")

// ReduceFunc computes the next projection from the prior one. prior is nil
// when the batch has no projection yet. It runs inside the store's atomic
// apply unit and must not perform I/O of its own.
type ReduceFunc func(prior *models.BatchProjection) (*models.BatchProjection, error)

// Store is the projection store: one current-state record per batch plus an
// append-only audit log of every observed event.
type Store interface {
	// ApplyEvent executes the single atomic apply unit for one event:
	// delivery-id dedup, prior load, reduce, projection upsert, audit
	// append and watermark advance. Either all of it happens or none of
	// it does. Errors returned by the reduce closure abort the apply and
	// are passed through unchanged.
	ApplyEvent(ctx context.Context, rec *models.EventRecord, reduce ReduceFunc) (*models.BatchProjection, error)

	// GetProjection returns the current projection for a batch, or
	// ErrNotFound.
	GetProjection(ctx context.Context, batchID string) (*models.BatchProjection, error)

	// ListProjections returns the most recently updated projections, for
	// dashboard initial loads.
	ListProjections(ctx context.Context, limit int) ([]*models.BatchProjection, error)

	// EventLog returns the audit trail for a batch in applied order.
	EventLog(ctx context.Context, batchID string) ([]*models.EventRecord, error)

	// Checkpoint returns the persisted resume sequence for the ledger
	// subscription. Zero means from genesis.
	Checkpoint(ctx context.Context) (uint64, error)

	// SaveCheckpoint persists the resume sequence. The engine only hands
	// in sequences every shard has fully applied, so resuming here after
	// a crash can redeliver events (deduped) but never skip one. A save
	// never moves the checkpoint backwards.
	SaveCheckpoint(ctx context.Context, seq uint64) error

	Close()
}
