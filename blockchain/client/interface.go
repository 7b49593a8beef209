package blockchain

import (
	"context"

	"agritrace/blockchain/types"
)

// LedgerSource is the generic interface over a blockchain client that yields
// the registry contract's event stream. It is blockchain-agnostic and can be
// implemented by different chain clients.
type LedgerSource interface {
	// Subscribe opens a lazy, potentially infinite stream of decoded
	// ledger events in non-decreasing sequence order, starting at
	// fromSequence (0 means from genesis). The channel closes when the
	// connection is lost or ctx is cancelled; callers resubscribe from
	// their last checkpoint, so a disconnect never loses events.
	Subscribe(ctx context.Context, fromSequence uint64) (<-chan *types.LedgerEvent, error)

	// Close releases the underlying client resources.
	Close() error
}
