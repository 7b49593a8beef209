package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "agritrace/api/http"
	"agritrace/internal/logger"
	"agritrace/internal/models"
	"agritrace/projection"
	"agritrace/storage/store"
)

func newTestMux(t *testing.T) (*http.ServeMux, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	mux := http.NewServeMux()
	httpapi.NewBatchHandler(mem, logger.NewNop()).Register(mux)
	return mux, mem
}

// seedBatch applies a creation event through the real reducer so handler
// tests see the same projections production code produces.
func seedBatch(t *testing.T, mem *store.MemoryStore, seq uint64, batchID, farmer string) {
	t.Helper()
	payload, err := json.Marshal(models.BatchCreatedPayload{
		BatchID:    batchID,
		Farmer:     farmer,
		CropType:   "Tea",
		FarmRef:    "farm-3",
		QuantityKg: 120,
		HarvestAt:  time.Now().Unix(),
	})
	require.NoError(t, err)
	rec := &models.EventRecord{
		DeliveryID:     "seed-" + batchID,
		LedgerSequence: seq,
		BatchID:        batchID,
		EventType:      models.EventBatchCreated,
		Payload:        payload,
		ObservedAt:     time.Now().UTC(),
	}
	_, err = mem.ApplyEvent(context.Background(), rec, func(prior *models.BatchProjection) (*models.BatchProjection, error) {
		return projection.Reduce(prior, rec)
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetBatch(t *testing.T) {
	mux, mem := newTestMux(t)
	seedBatch(t, mem, 1, "B1", "F1")

	rec := doRequest(t, mux, "/v1/batches/B1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var p models.BatchProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "B1", p.BatchID)
	assert.Equal(t, "F1", p.CurrentHolder)
	assert.Equal(t, models.StatusCreated, p.Status)
}

func TestGetBatchNotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doRequest(t, mux, "/v1/batches/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "batch not found", body["error"])
}

func TestGetBatchEvents(t *testing.T) {
	mux, mem := newTestMux(t)
	seedBatch(t, mem, 1, "B1", "F1")

	rec := doRequest(t, mux, "/v1/batches/B1/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var recs []*models.EventRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, models.EventBatchCreated, recs[0].EventType)
	assert.Equal(t, uint64(1), recs[0].LedgerSequence)
}

func TestGetBatchEventsNotFound(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doRequest(t, mux, "/v1/batches/missing/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBatches(t *testing.T) {
	mux, mem := newTestMux(t)
	seedBatch(t, mem, 1, "B1", "F1")
	seedBatch(t, mem, 2, "B2", "F2")

	rec := doRequest(t, mux, "/v1/batches")
	require.Equal(t, http.StatusOK, rec.Code)

	var ps []*models.BatchProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	assert.Len(t, ps, 2)
}

func TestListBatchesLimit(t *testing.T) {
	mux, mem := newTestMux(t)
	seedBatch(t, mem, 1, "B1", "F1")
	seedBatch(t, mem, 2, "B2", "F2")

	rec := doRequest(t, mux, "/v1/batches?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var ps []*models.BatchProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	assert.Len(t, ps, 1)
}

func TestListBatchesInvalidLimit(t *testing.T) {
	mux, _ := newTestMux(t)
	for _, raw := range []string{"0", "-5", "501", "abc"} {
		rec := doRequest(t, mux, "/v1/batches?limit="+raw)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestHealth(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doRequest(t, mux, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
