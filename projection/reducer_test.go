package projection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agritrace/internal/models"
)

var testTime = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func record(t *testing.T, seq uint64, delivery, batchID string, eventType models.EventType, payload any) *models.EventRecord {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.EventRecord{
		DeliveryID:     delivery,
		LedgerSequence: seq,
		BatchID:        batchID,
		EventType:      eventType,
		Payload:        raw,
		ObservedAt:     testTime,
	}
}

func createdRecord(t *testing.T, seq uint64, delivery, batchID, farmer string) *models.EventRecord {
	t.Helper()
	return record(t, seq, delivery, batchID, models.EventBatchCreated, models.BatchCreatedPayload{
		BatchID:    batchID,
		Farmer:     farmer,
		CropType:   "Coffee",
		FarmRef:    "farm-12",
		QuantityKg: 500,
		HarvestAt:  testTime.Unix() - 3600,
	})
}

func createdProjection(t *testing.T, batchID, farmer string) *models.BatchProjection {
	t.Helper()
	p, err := Reduce(nil, createdRecord(t, 1, "d-create", batchID, farmer))
	require.NoError(t, err)
	return p
}

func TestReduceBatchCreated(t *testing.T) {
	p, err := Reduce(nil, createdRecord(t, 7, "d-1", "B1", "F1"))
	require.NoError(t, err)

	assert.Equal(t, "B1", p.BatchID)
	assert.Equal(t, "Coffee", p.CropType)
	assert.Equal(t, "farm-12", p.FarmRef)
	assert.Equal(t, int64(500), p.QuantityKg)
	assert.Equal(t, models.StatusCreated, p.Status)
	assert.Equal(t, "F1", p.CurrentHolder)
	assert.Equal(t, []string{"F1"}, p.CustodyTrail)
	assert.False(t, p.Finalized)
	assert.False(t, p.Disputed)
	assert.Equal(t, uint64(7), p.LastAppliedSequence)
}

func TestReduceBatchCreatedRequiresFarmer(t *testing.T) {
	rec := record(t, 1, "d-1", "B1", models.EventBatchCreated, models.BatchCreatedPayload{BatchID: "B1"})
	_, err := Reduce(nil, rec)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestReduceDuplicateCreationMatchingPayloadIsNoop(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	replay := createdRecord(t, 4, "d-replay", "B1", "F1")
	next, err := Reduce(prior, replay)
	require.NoError(t, err)

	assert.Equal(t, prior.CustodyTrail, next.CustodyTrail)
	assert.Equal(t, prior.Status, next.Status)
	assert.Equal(t, uint64(4), next.LastAppliedSequence)
}

func TestReduceDuplicateCreationMismatchedPayloadFails(t *testing.T) {
	base := models.BatchCreatedPayload{
		BatchID:      "B1",
		Farmer:       "F1",
		CropType:     "Coffee",
		FarmRef:      "farm-12",
		QuantityKg:   500,
		HarvestAt:    testTime.Unix() - 3600,
		PricePerUnit: 900,
	}
	prior, err := Reduce(nil, record(t, 1, "d-create", "B1", models.EventBatchCreated, base))
	require.NoError(t, err)

	mutations := map[string]func(*models.BatchCreatedPayload){
		"farmer":         func(p *models.BatchCreatedPayload) { p.Farmer = "F2" },
		"crop_type":      func(p *models.BatchCreatedPayload) { p.CropType = "Tea" },
		"farm_ref":       func(p *models.BatchCreatedPayload) { p.FarmRef = "farm-99" },
		"quantity_kg":    func(p *models.BatchCreatedPayload) { p.QuantityKg = 501 },
		"harvest_at":     func(p *models.BatchCreatedPayload) { p.HarvestAt += 999999 },
		"price_per_unit": func(p *models.BatchCreatedPayload) { p.PricePerUnit = 777 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			replay := base
			mutate(&replay)
			_, err := Reduce(prior, record(t, 4, "d-other", "B1", models.EventBatchCreated, replay))
			var dup *DuplicateCreationError
			require.ErrorAs(t, err, &dup)
		})
	}

	// An exact replay, base price included, is still the idempotent no-op.
	next, err := Reduce(prior, record(t, 4, "d-replay", "B1", models.EventBatchCreated, base))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.LastAppliedSequence)
	assert.Equal(t, prior.PriceHistory, next.PriceHistory)
}

func TestReduceCustodyTransfer(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	rec := record(t, 2, "d-2", "B1", models.EventCustodyTransferred,
		models.CustodyTransferredPayload{From: "F1", To: "D1"})
	next, err := Reduce(prior, rec)
	require.NoError(t, err)

	assert.Equal(t, "D1", next.CurrentHolder)
	assert.Equal(t, []string{"F1", "D1"}, next.CustodyTrail)
	assert.Equal(t, models.StatusInTransit, next.Status)
}

func TestReduceCustodyTransferWrongHolder(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	rec := record(t, 2, "d-2", "B1", models.EventCustodyTransferred,
		models.CustodyTransferredPayload{From: "F9", To: "D1"})
	_, err := Reduce(prior, rec)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestReduceBeforeCreationRejected(t *testing.T) {
	cases := []struct {
		eventType models.EventType
		payload   any
	}{
		{models.EventCustodyTransferred, models.CustodyTransferredPayload{From: "F1", To: "D1"}},
		{models.EventQualityUpdated, models.QualityUpdatedPayload{Metric: "Moisture", Value: "12%"}},
		{models.EventPriceUpdated, models.PriceUpdatedPayload{PricePerUnit: 100}},
		{models.EventFinalized, models.FinalizedPayload{}},
		{models.EventDisputed, models.DisputedPayload{Reason: "mismatch"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			_, err := Reduce(nil, record(t, 1, "d-1", "B1", tc.eventType, tc.payload))
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestReduceQualityAppends(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	rec := record(t, 2, "d-2", "B1", models.EventQualityUpdated,
		models.QualityUpdatedPayload{Metric: "Moisture", Value: "11.5%", CertificateRef: "cert-9"})
	next, err := Reduce(prior, rec)
	require.NoError(t, err)

	require.Len(t, next.Qualities, 1)
	assert.Equal(t, "Moisture", next.Qualities[0].Metric)
	assert.Equal(t, "cert-9", next.Qualities[0].CertificateRef)
}

func TestReducePriceAppends(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	next, err := Reduce(prior, record(t, 2, "d-2", "B1", models.EventPriceUpdated,
		models.PriceUpdatedPayload{PricePerUnit: 1250, Reason: "market"}))
	require.NoError(t, err)
	next, err = Reduce(next, record(t, 3, "d-3", "B1", models.EventPriceUpdated,
		models.PriceUpdatedPayload{PricePerUnit: 1400, Reason: "quality premium"}))
	require.NoError(t, err)

	require.Len(t, next.PriceHistory, 2)
	assert.Equal(t, int64(1250), next.PriceHistory[0].PricePerUnit)
	assert.Equal(t, int64(1400), next.PriceHistory[1].PricePerUnit)
}

func TestReduceFinalizeSealsBatch(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")

	sealed, err := Reduce(prior, record(t, 2, "d-2", "B1", models.EventFinalized, models.FinalizedPayload{}))
	require.NoError(t, err)
	assert.True(t, sealed.Finalized)
	assert.Equal(t, models.StatusFinalized, sealed.Status)

	mutations := []struct {
		eventType models.EventType
		payload   any
	}{
		{models.EventCustodyTransferred, models.CustodyTransferredPayload{From: "F1", To: "D1"}},
		{models.EventQualityUpdated, models.QualityUpdatedPayload{Metric: "Moisture", Value: "13%"}},
		{models.EventPriceUpdated, models.PriceUpdatedPayload{PricePerUnit: 999}},
		{models.EventFinalized, models.FinalizedPayload{}},
	}
	for _, tc := range mutations {
		t.Run(string(tc.eventType), func(t *testing.T) {
			_, err := Reduce(sealed, record(t, 3, "d-3", "B1", tc.eventType, tc.payload))
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestReduceDisputeAfterFinalize(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")
	sealed, err := Reduce(prior, record(t, 2, "d-2", "B1", models.EventFinalized, models.FinalizedPayload{}))
	require.NoError(t, err)

	next, err := Reduce(sealed, record(t, 3, "d-3", "B1", models.EventDisputed,
		models.DisputedPayload{Reason: "weight mismatch at delivery"}))
	require.NoError(t, err)

	assert.True(t, next.Disputed)
	assert.Equal(t, "weight mismatch at delivery", next.DisputeReason)
	assert.Equal(t, models.StatusFinalized, next.Status, "dispute must not change status")
	assert.True(t, next.Finalized)
}

func TestReduceNeverMutatesPrior(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")
	trailBefore := append([]string(nil), prior.CustodyTrail...)

	_, err := Reduce(prior, record(t, 2, "d-2", "B1", models.EventCustodyTransferred,
		models.CustodyTransferredPayload{From: "F1", To: "D1"}))
	require.NoError(t, err)

	assert.Equal(t, trailBefore, prior.CustodyTrail)
	assert.Equal(t, "F1", prior.CurrentHolder)
	assert.Equal(t, models.StatusCreated, prior.Status)
}

func TestReduceMalformedPayload(t *testing.T) {
	prior := createdProjection(t, "B1", "F1")
	rec := &models.EventRecord{
		DeliveryID:     "d-bad",
		LedgerSequence: 2,
		BatchID:        "B1",
		EventType:      models.EventCustodyTransferred,
		Payload:        json.RawMessage(`{"from":`),
		ObservedAt:     testTime,
	}
	_, err := Reduce(prior, rec)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}
