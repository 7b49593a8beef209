package consumer

import (
	"context"

	"agritrace/blockchain/types"
)

// Consumer defines the interface for relay-topic consumers yielding decoded
// ledger events.
type Consumer interface {
	// Consume blocks until an event is received or the context is cancelled.
	// It returns the event, an acknowledgement callback, and any error that
	// occurred. ack(true) marks the event as handed off (offset committed);
	// ack(false) leaves it for redelivery. Delivery is at-least-once; the
	// engine's delivery-id dedup makes application exactly-once.
	Consume(ctx context.Context) (ev *types.LedgerEvent, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
