package in_mem

import (
	"context"
	"sync"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
)

type BatchStore struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]domain.ImportBatch
	history map[uuid.UUID][]domain.BatchStatus
}

func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: make(map[uuid.UUID]domain.ImportBatch),
		history: make(map[uuid.UUID][]domain.BatchStatus),
	}
}

func (s *BatchStore) Save(_ context.Context, batch domain.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	s.history[batch.ID] = append(s.history[batch.ID], batch.Status)
	return nil
}

func (s *BatchStore) Get(_ context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.ImportBatch{}, apperr.ErrNotFound
	}
	return b, nil
}

// History lists every status a batch was saved with, in order.
func (s *BatchStore) History(id uuid.UUID) []domain.BatchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BatchStatus(nil), s.history[id]...)
}
