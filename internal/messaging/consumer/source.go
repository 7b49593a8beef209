package consumer

import (
	"context"
	"errors"

	"agritrace/blockchain/types"
	"agritrace/internal/logger"
)

// Source adapts a Consumer into the ledger source shape the engine
// subscribes to, so the engine runs unchanged whether events arrive straight
// from the chain or through the relay topic.
type Source struct {
	consumer Consumer
	logger   *logger.Logger
}

func NewSource(c Consumer, log *logger.Logger) *Source {
	return &Source{consumer: c, logger: log}
}

// Subscribe starts a pump draining the consumer into a ledger event channel.
// fromSequence is informational here: the relay topic's committed offsets
// already track position, and anything replayed below the checkpoint is
// dropped by the engine's dedup.
func (s *Source) Subscribe(ctx context.Context, fromSequence uint64) (<-chan *types.LedgerEvent, error) {
	out := make(chan *types.LedgerEvent, 64)
	go func() {
		defer close(out)
		for {
			ev, ack, err := s.consumer.Consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				// Malformed messages were already committed by the
				// consumer; anything else closes the stream and lets
				// the engine's resubscribe backoff take over.
				s.logger.Warn("relay consume failed, closing stream", "error", err)
				return
			}
			select {
			case out <- ev:
				ack(true)
			case <-ctx.Done():
				ack(false)
				return
			}
		}
	}()
	return out, nil
}

func (s *Source) Close() error {
	return s.consumer.Close()
}
