package models

import "time"

// BatchStatus is the lifecycle position of a batch. The progression is
// linear (Created -> InTransit -> Finalized); StatusDisputed exists for wire
// compatibility with the registry contract's enum but the projection tracks
// disputes through the orthogonal Disputed flag instead.
type BatchStatus string

const (
	StatusCreated   BatchStatus = "Created"
	StatusInTransit BatchStatus = "InTransit"
	StatusFinalized BatchStatus = "Finalized"
	StatusDisputed  BatchStatus = "Disputed"
)

// QualityEntry is one appended quality measurement.
type QualityEntry struct {
	Metric         string    `json:"metric"`
	Value          string    `json:"value"`
	CertificateRef string    `json:"certificate_ref,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// PricePoint is one appended price change. PricePerUnit is a fixed-point
// amount in the smallest currency unit.
type PricePoint struct {
	PricePerUnit int64     `json:"price_per_unit"`
	Reason       string    `json:"reason,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// BatchProjection is the cached, read-optimized view of one supply-chain
// batch, reconstructed exclusively from ledger events.
//
// LastAppliedSequence is the idempotency watermark: the highest ledger
// position folded into this projection. It only ever moves forward.
type BatchProjection struct {
	BatchID       string      `json:"batch_id"`
	CropType      string      `json:"crop_type"`
	FarmRef       string      `json:"farm_ref"`
	HarvestAt     time.Time   `json:"harvest_at"`
	QuantityKg    int64       `json:"quantity_kg"`
	CurrentHolder string      `json:"current_holder"`
	Status        BatchStatus `json:"status"`

	Qualities    []QualityEntry `json:"qualities"`
	PriceHistory []PricePoint   `json:"price_history"`
	// CustodyTrail is append-only; the first element is the original farmer.
	CustodyTrail []string `json:"custody_trail"`

	Disputed      bool   `json:"disputed"`
	DisputeReason string `json:"dispute_reason,omitempty"`
	Finalized     bool   `json:"finalized"`

	LastAppliedSequence uint64    `json:"last_applied_sequence"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a deep copy so reducers can build the next state without
// aliasing the prior projection's slices.
func (p *BatchProjection) Clone() *BatchProjection {
	if p == nil {
		return nil
	}
	next := *p
	next.Qualities = append([]QualityEntry(nil), p.Qualities...)
	next.PriceHistory = append([]PricePoint(nil), p.PriceHistory...)
	next.CustodyTrail = append([]string(nil), p.CustodyTrail...)
	return &next
}
