package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"agritrace/blockchain/types"
	"agritrace/internal/logger"
	"agritrace/internal/models"
)

// MockConsumer replays a canned batch lifecycle for local development. The
// sequence includes a redelivered creation so the engine's dedup path is
// visible in the logs.
type MockConsumer struct {
	logger *logger.Logger
	events chan *types.LedgerEvent
}

// PredefinedEvents stores the events to be replayed.
var PredefinedEvents []*types.LedgerEvent

func init() {
	now := time.Now().UTC()
	mk := func(seq uint64, delivery string, batchID string, t models.EventType, payload any) *types.LedgerEvent {
		raw, _ := json.Marshal(payload)
		return &types.LedgerEvent{
			DeliveryID: delivery,
			Sequence:   seq,
			BatchID:    batchID,
			Type:       t,
			Payload:    raw,
			TxID:       "mocktx-" + delivery,
			ObservedAt: now,
		}
	}

	created := mk(1, "demo-001", "DEMO-BATCH-1", models.EventBatchCreated, models.BatchCreatedPayload{
		BatchID:    "DEMO-BATCH-1",
		Farmer:     "farmer-demo",
		CropType:   "Coffee",
		FarmRef:    "farm-7",
		QuantityKg: 250,
		HarvestAt:  now.Unix() - 86400,
	})
	PredefinedEvents = []*types.LedgerEvent{
		created,
		mk(2, "demo-002", "DEMO-BATCH-1", models.EventQualityUpdated, models.QualityUpdatedPayload{
			Metric: "Moisture", Value: "11.5%",
		}),
		// Same delivery id as the creation: simulates at-least-once redelivery
		created,
		mk(3, "demo-003", "DEMO-BATCH-1", models.EventCustodyTransferred, models.CustodyTransferredPayload{
			From: "farmer-demo", To: "distributor-demo",
		}),
		mk(4, "demo-004", "DEMO-BATCH-1", models.EventFinalized, models.FinalizedPayload{}),
	}
}

// NewMockConsumer creates a MockConsumer and loads the predefined events.
func NewMockConsumer(log *logger.Logger) *MockConsumer {
	mc := &MockConsumer{
		logger: log,
		events: make(chan *types.LedgerEvent, len(PredefinedEvents)+5),
	}
	for _, ev := range PredefinedEvents {
		mc.events <- ev
	}
	log.Info("mock consumer loaded predefined events", "count", len(PredefinedEvents))
	return mc
}

// Consume reads predefined events from the channel.
func (m *MockConsumer) Consume(ctx context.Context) (ev *types.LedgerEvent, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case ev := <-m.events:
		if ev == nil {
			return nil, nil, errors.New("event channel closed")
		}
		ackCallback := func(success bool) {
			if success {
				return
			}
			select {
			case m.events <- ev:
			default:
				m.logger.Warn("failed to re-queue mock event", "delivery_id", ev.DeliveryID)
			}
		}
		return ev, ackCallback, nil
	}
}

// Close closes the event channel.
func (m *MockConsumer) Close() error {
	close(m.events)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
