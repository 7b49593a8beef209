package models

import (
	"encoding/json"
	"time"
)

// EventType identifies one of the six registry contract events.
type EventType string

const (
	EventBatchCreated       EventType = "BatchCreated"
	EventCustodyTransferred EventType = "CustodyTransferred"
	EventQualityUpdated     EventType = "QualityUpdated"
	EventPriceUpdated       EventType = "PriceUpdated"
	EventFinalized          EventType = "Finalized"
	EventDisputed           EventType = "Disputed"
)

// EventRecord is one entry in the append-only audit log.
//
// DeliveryID is unique per delivery attempt and is the dedup key that turns
// the source's at-least-once delivery into exactly-once application.
// LedgerSequence is the ledger-assigned ordering position (block height);
// it is non-decreasing within a batch.
type EventRecord struct {
	DeliveryID     string          `json:"delivery_id"`
	LedgerSequence uint64          `json:"ledger_sequence"`
	BatchID        string          `json:"batch_id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	ObservedAt     time.Time       `json:"observed_at"`
}

// Delta is the notification published to subscribers after an event has been
// persisted. The shape matches the push frame clients receive.
type Delta struct {
	BatchID        string          `json:"batch_id"`
	Type           EventType       `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	LedgerSequence uint64          `json:"ledger_sequence"`
}

// Event payloads. Quantities are integers, prices are fixed-point smallest-
// unit integers, timestamps are unix seconds on the wire.

type BatchCreatedPayload struct {
	BatchID      string `json:"id"`
	Farmer       string `json:"farmer"`
	CropType     string `json:"crop_type"`
	FarmRef      string `json:"farm_ref"`
	QuantityKg   int64  `json:"quantity_kg"`
	HarvestAt    int64  `json:"harvest_at"`
	PricePerUnit int64  `json:"price_per_unit"`
}

type CustodyTransferredPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type QualityUpdatedPayload struct {
	Metric         string `json:"metric"`
	Value          string `json:"value"`
	CertificateRef string `json:"certificate_ref,omitempty"`
}

type PriceUpdatedPayload struct {
	PricePerUnit int64  `json:"price_per_unit"`
	Reason       string `json:"reason,omitempty"`
}

type FinalizedPayload struct{}

type DisputedPayload struct {
	Reason string `json:"reason"`
}

// ValidEventType reports whether t is one of the six known event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventBatchCreated, EventCustodyTransferred, EventQualityUpdated,
		EventPriceUpdated, EventFinalized, EventDisputed:
		return true
	}
	return false
}
