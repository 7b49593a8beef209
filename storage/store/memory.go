package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"agritrace/internal/models"
)

// MemoryStore is an in-process Store used by tests and local development,
// mirroring the kafka/mock consumer split. Apply atomicity comes from a
// per-batch mutex, so independent batches still apply concurrently.
type MemoryStore struct {
	mu          sync.RWMutex
	projections map[string]*models.BatchProjection
	seen        map[string]struct{}
	log         []*models.EventRecord
	batchLocks  map[string]*sync.Mutex
	checkpoint  uint64

	failMu   sync.Mutex
	failures int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projections: make(map[string]*models.BatchProjection),
		seen:        make(map[string]struct{}),
		batchLocks:  make(map[string]*sync.Mutex),
	}
}

// FailNext makes the next n ApplyEvent calls fail with a transient error,
// for exercising the engine's retry path.
func (s *MemoryStore) FailNext(n int) {
	s.failMu.Lock()
	s.failures = n
	s.failMu.Unlock()
}

func (s *MemoryStore) lockFor(batchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.batchLocks[batchID]
	if !ok {
		l = &sync.Mutex{}
		s.batchLocks[batchID] = l
	}
	return l
}

func (s *MemoryStore) ApplyEvent(ctx context.Context, rec *models.EventRecord, reduce ReduceFunc) (*models.BatchProjection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.failMu.Lock()
	if s.failures > 0 {
		s.failures--
		s.failMu.Unlock()
		return nil, errors.New("memory store: injected transient failure")
	}
	s.failMu.Unlock()

	l := s.lockFor(rec.BatchID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	_, dup := s.seen[rec.DeliveryID]
	prior := s.projections[rec.BatchID]
	s.mu.RUnlock()
	if dup {
		return nil, ErrDuplicateDelivery
	}

	next, err := reduce(prior.Clone())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projections[next.BatchID] = next
	s.seen[rec.DeliveryID] = struct{}{}
	s.log = append(s.log, rec)
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) GetProjection(ctx context.Context, batchID string) (*models.BatchProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projections[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProjections(ctx context.Context, limit int) ([]*models.BatchProjection, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.BatchProjection, 0, len(s.projections))
	for _, p := range s.projections {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) EventLog(ctx context.Context, batchID string) ([]*models.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EventRecord
	for _, rec := range s.log {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Checkpoint(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint, nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, seq uint64) error {
	s.mu.Lock()
	if seq > s.checkpoint {
		s.checkpoint = seq
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
