package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"agritrace/internal/models"
)

// Contract event topics emitted by the supply-chain registry. They map 1:1
// onto the projection event types.
const (
	TopicBatchCreated       = "BatchCreated"
	TopicCustodyTransferred = "CustodyTransferred"
	TopicQualityUpdated     = "QualityUpdated"
	TopicPriceUpdated       = "PriceUpdated"
	TopicFinalized          = "Finalized"
	TopicDisputed           = "Disputed"
)

// LedgerEvent is one decoded registry contract event as observed on chain.
//
// DeliveryID is derived deterministically from the transaction id and event
// content, so a redelivery after reconnect carries the same id and is
// detectable downstream. Sequence is the ledger-assigned ordering position
// (block height); it never decreases within a subscription.
type LedgerEvent struct {
	DeliveryID string          `json:"delivery_id"`
	Sequence   uint64          `json:"sequence"`
	BatchID    string          `json:"batch_id"`
	Type       models.EventType `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	TxID       string          `json:"tx_id"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Record converts the ledger event into the audit log's record shape.
func (e *LedgerEvent) Record() *models.EventRecord {
	return &models.EventRecord{
		DeliveryID:     e.DeliveryID,
		LedgerSequence: e.Sequence,
		BatchID:        e.BatchID,
		EventType:      e.Type,
		Payload:        e.Payload,
		ObservedAt:     e.ObservedAt,
	}
}

// EventTypeForTopic maps a contract event topic to a projection event type.
func EventTypeForTopic(topic string) (models.EventType, bool) {
	t := models.EventType(topic)
	if models.ValidEventType(t) {
		return t, true
	}
	return "", false
}

// DeriveDeliveryID builds the stable per-delivery identifier from the
// transaction id, topic and raw event data. The same on-chain event always
// derives the same id, which is what makes redelivery after a reconnect a
// detectable no-op.
func DeriveDeliveryID(txID, topic string, eventData []string) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(eventData, "\x00")))
	sum := hex.EncodeToString(h.Sum(nil))
	return txID + ":" + sum[:16]
}
