package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agritrace/internal/models"
	"agritrace/storage/store"
)

func eventRecord(seq uint64, delivery, batchID string) *models.EventRecord {
	return &models.EventRecord{
		DeliveryID:     delivery,
		LedgerSequence: seq,
		BatchID:        batchID,
		EventType:      models.EventBatchCreated,
		Payload:        json.RawMessage(`{}`),
		ObservedAt:     time.Now().UTC(),
	}
}

// stampReduce is a minimal reducer standing in for the projection package:
// it records the sequence it was applied at.
func stampReduce(rec *models.EventRecord) store.ReduceFunc {
	return func(prior *models.BatchProjection) (*models.BatchProjection, error) {
		next := prior.Clone()
		if next == nil {
			next = &models.BatchProjection{BatchID: rec.BatchID, Status: models.StatusCreated}
		}
		next.LastAppliedSequence = rec.LedgerSequence
		next.UpdatedAt = rec.ObservedAt
		return next, nil
	}
}

func mustApply(t *testing.T, s *store.MemoryStore, rec *models.EventRecord) *models.BatchProjection {
	t.Helper()
	p, err := s.ApplyEvent(context.Background(), rec, stampReduce(rec))
	require.NoError(t, err)
	return p
}

func TestMemoryStoreApplyAndGet(t *testing.T) {
	s := store.NewMemoryStore()
	rec := eventRecord(1, "d-1", "B1")
	applied := mustApply(t, s, rec)
	assert.Equal(t, uint64(1), applied.LastAppliedSequence)

	got, err := s.GetProjection(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, "B1", got.BatchID)
	assert.Equal(t, uint64(1), got.LastAppliedSequence)
}

func TestMemoryStoreGetUnknownBatch(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.GetProjection(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreRejectsDuplicateDelivery(t *testing.T) {
	s := store.NewMemoryStore()
	mustApply(t, s, eventRecord(1, "d-1", "B1"))

	replay := eventRecord(1, "d-1", "B1")
	_, err := s.ApplyEvent(context.Background(), replay, stampReduce(replay))
	assert.ErrorIs(t, err, store.ErrDuplicateDelivery)

	recs, err := s.EventLog(context.Background(), "B1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStoreConcurrentSameDelivery(t *testing.T) {
	s := store.NewMemoryStore()

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, duped := 0, 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := eventRecord(1, "d-1", "B1")
			_, err := s.ApplyEvent(context.Background(), rec, stampReduce(rec))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrDuplicateDelivery):
				duped++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one racer must win")
	assert.Equal(t, racers-1, duped)

	recs, err := s.EventLog(context.Background(), "B1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStoreReduceErrorWritesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	rec := eventRecord(1, "d-1", "B1")

	boom := errors.New("reduce rejected")
	_, err := s.ApplyEvent(context.Background(), rec, func(*models.BatchProjection) (*models.BatchProjection, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing persisted: neither projection, nor log, nor dedup marker.
	_, err = s.GetProjection(context.Background(), "B1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	recs, err := s.EventLog(context.Background(), "B1")
	require.NoError(t, err)
	assert.Empty(t, recs)
	mustApply(t, s, eventRecord(1, "d-1", "B1"))
}

func TestMemoryStoreCheckpoint(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	cp, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp, "fresh store checkpoints at genesis")

	require.NoError(t, s.SaveCheckpoint(ctx, 7))
	cp, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp)

	// Saves never move the checkpoint backwards.
	require.NoError(t, s.SaveCheckpoint(ctx, 5))
	cp, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp)
}

func TestMemoryStoreListProjections(t *testing.T) {
	s := store.NewMemoryStore()
	base := time.Now().UTC()
	for i, batchID := range []string{"B1", "B2", "B3"} {
		rec := eventRecord(uint64(i+1), "d-"+batchID, batchID)
		rec.ObservedAt = base.Add(time.Duration(i) * time.Minute)
		mustApply(t, s, rec)
	}

	ps, err := s.ListProjections(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "B3", ps[0].BatchID, "most recently updated first")
	assert.Equal(t, "B2", ps[1].BatchID)
}

func TestMemoryStoreFailNext(t *testing.T) {
	s := store.NewMemoryStore()
	s.FailNext(1)

	rec := eventRecord(1, "d-1", "B1")
	_, err := s.ApplyEvent(context.Background(), rec, stampReduce(rec))
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrDuplicateDelivery)

	mustApply(t, s, eventRecord(1, "d-1", "B1"))
}
