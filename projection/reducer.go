// Package projection holds the pure event reducer that folds ledger events
// into batch projections. It performs no I/O, which keeps replay
// deterministic and lets the state machine be tested without a live ledger
// or store.
package projection

import (
	"encoding/json"
	"time"

	"agritrace/internal/models"
)

// Reduce maps (prior projection, incoming event) to the next projection.
// prior is nil when no projection exists for the event's batch yet. The
// returned projection is always a fresh value; prior is never mutated.
//
// Reduce is total over the six event types: anything that violates the batch
// state machine comes back as *InvalidTransitionError or
// *DuplicateCreationError, never as a silently mangled projection.
func Reduce(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	if rec.EventType == models.EventBatchCreated {
		return reduceCreated(prior, rec)
	}
	if prior == nil {
		return nil, &InvalidTransitionError{
			BatchID:   rec.BatchID,
			EventType: rec.EventType,
			Reason:    "no projection exists for this batch",
		}
	}

	switch rec.EventType {
	case models.EventCustodyTransferred:
		return reduceCustody(prior, rec)
	case models.EventQualityUpdated:
		return reduceQuality(prior, rec)
	case models.EventPriceUpdated:
		return reducePrice(prior, rec)
	case models.EventFinalized:
		return reduceFinalized(prior, rec)
	case models.EventDisputed:
		return reduceDisputed(prior, rec)
	default:
		return nil, &InvalidTransitionError{
			BatchID:   rec.BatchID,
			EventType: rec.EventType,
			Reason:    "unknown event type",
		}
	}
}

func reduceCreated(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	var p models.BatchCreatedPayload
	if err := decode(rec, &p); err != nil {
		return nil, err
	}
	if p.Farmer == "" {
		return nil, &InvalidTransitionError{BatchID: rec.BatchID, EventType: rec.EventType, Reason: "creation payload missing farmer"}
	}

	if prior != nil {
		if creationMatches(prior, &p) {
			// Replayed creation with identical payload: idempotent no-op,
			// only the watermark moves.
			return advance(prior, rec), nil
		}
		return nil, &DuplicateCreationError{BatchID: rec.BatchID, Reason: "projection exists with different creation payload"}
	}

	next := &models.BatchProjection{
		BatchID:       rec.BatchID,
		CropType:      p.CropType,
		FarmRef:       p.FarmRef,
		HarvestAt:     time.Unix(p.HarvestAt, 0).UTC(),
		QuantityKg:    p.QuantityKg,
		CurrentHolder: p.Farmer,
		Status:        models.StatusCreated,
		Qualities:     []models.QualityEntry{},
		PriceHistory:  []models.PricePoint{},
		CustodyTrail:  []string{p.Farmer},
	}
	if p.PricePerUnit > 0 {
		next.PriceHistory = append(next.PriceHistory, models.PricePoint{
			PricePerUnit: p.PricePerUnit,
			Reason:       basePriceReason,
			RecordedAt:   rec.ObservedAt,
		})
	}
	stamp(next, rec)
	return next, nil
}

func reduceCustody(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	var p models.CustodyTransferredPayload
	if err := decode(rec, &p); err != nil {
		return nil, err
	}
	if prior.Finalized {
		return nil, finalizedErr(prior, rec)
	}
	if prior.CurrentHolder != p.From {
		return nil, &InvalidTransitionError{
			BatchID:   rec.BatchID,
			EventType: rec.EventType,
			Reason:    "transfer from " + p.From + " but current holder is " + prior.CurrentHolder,
		}
	}
	if p.To == "" {
		return nil, &InvalidTransitionError{BatchID: rec.BatchID, EventType: rec.EventType, Reason: "transfer to empty holder"}
	}

	next := prior.Clone()
	next.CustodyTrail = append(next.CustodyTrail, p.To)
	next.CurrentHolder = p.To
	next.Status = models.StatusInTransit
	stamp(next, rec)
	return next, nil
}

func reduceQuality(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	var p models.QualityUpdatedPayload
	if err := decode(rec, &p); err != nil {
		return nil, err
	}
	if prior.Finalized {
		return nil, finalizedErr(prior, rec)
	}

	next := prior.Clone()
	next.Qualities = append(next.Qualities, models.QualityEntry{
		Metric:         p.Metric,
		Value:          p.Value,
		CertificateRef: p.CertificateRef,
		RecordedAt:     rec.ObservedAt,
	})
	stamp(next, rec)
	return next, nil
}

func reducePrice(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	var p models.PriceUpdatedPayload
	if err := decode(rec, &p); err != nil {
		return nil, err
	}
	if prior.Finalized {
		return nil, finalizedErr(prior, rec)
	}

	next := prior.Clone()
	next.PriceHistory = append(next.PriceHistory, models.PricePoint{
		PricePerUnit: p.PricePerUnit,
		Reason:       p.Reason,
		RecordedAt:   rec.ObservedAt,
	})
	stamp(next, rec)
	return next, nil
}

func reduceFinalized(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	if prior.Finalized {
		return nil, finalizedErr(prior, rec)
	}
	next := prior.Clone()
	next.Finalized = true
	next.Status = models.StatusFinalized
	stamp(next, rec)
	return next, nil
}

// Disputes can be raised at any point, including after finalization. The
// status is left untouched; disputed is an orthogonal flag.
func reduceDisputed(prior *models.BatchProjection, rec *models.EventRecord) (*models.BatchProjection, error) {
	var p models.DisputedPayload
	if err := decode(rec, &p); err != nil {
		return nil, err
	}
	next := prior.Clone()
	next.Disputed = true
	next.DisputeReason = p.Reason
	stamp(next, rec)
	return next, nil
}

func decode(rec *models.EventRecord, v interface{}) error {
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return &InvalidTransitionError{
			BatchID:   rec.BatchID,
			EventType: rec.EventType,
			Reason:    "malformed payload: " + err.Error(),
		}
	}
	return nil
}

func finalizedErr(prior *models.BatchProjection, rec *models.EventRecord) error {
	return &InvalidTransitionError{
		BatchID:   prior.BatchID,
		EventType: rec.EventType,
		Reason:    "batch is finalized",
	}
}

const basePriceReason = "base price"

// creationMatches compares a replayed creation payload against the projection
// field by field. Every creation field participates: a redelivery that
// differs anywhere is a conflicting second creation, not a replay.
func creationMatches(prior *models.BatchProjection, p *models.BatchCreatedPayload) bool {
	return prior.CropType == p.CropType &&
		prior.FarmRef == p.FarmRef &&
		prior.QuantityKg == p.QuantityKg &&
		prior.HarvestAt.Equal(time.Unix(p.HarvestAt, 0).UTC()) &&
		basePrice(prior) == p.PricePerUnit &&
		len(prior.CustodyTrail) > 0 && prior.CustodyTrail[0] == p.Farmer
}

// basePrice recovers the creation-time price from the projection. The base
// point, when present, is always the first entry of the append-only history.
func basePrice(prior *models.BatchProjection) int64 {
	if len(prior.PriceHistory) > 0 && prior.PriceHistory[0].Reason == basePriceReason {
		return prior.PriceHistory[0].PricePerUnit
	}
	return 0
}

func advance(prior *models.BatchProjection, rec *models.EventRecord) *models.BatchProjection {
	next := prior.Clone()
	stamp(next, rec)
	return next
}

func stamp(next *models.BatchProjection, rec *models.EventRecord) {
	if rec.LedgerSequence > next.LastAppliedSequence {
		next.LastAppliedSequence = rec.LedgerSequence
	}
	next.UpdatedAt = rec.ObservedAt
}
