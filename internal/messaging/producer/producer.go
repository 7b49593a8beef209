package producer

import (
	"context"

	"agritrace/blockchain/types"
)

// Producer defines the interface for publishing ledger events to the relay
// topic.
type Producer interface {
	// Publish sends a single ledger event
	Publish(ctx context.Context, ev *types.LedgerEvent) error

	// PublishBatch sends ledger events in batch
	PublishBatch(ctx context.Context, evs []*types.LedgerEvent) error

	// Close closes the producer connection
	Close() error
}
