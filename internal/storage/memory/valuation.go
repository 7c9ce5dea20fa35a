package memory

import (
	"context"
	"sort"
	"sync"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// ValuationStore is an in-memory implementation of storage.ValuationStore.
type ValuationStore struct {
	mu   sync.RWMutex
	data []*domain.ValuationPoint
}

// NewValuationStore creates a new in-memory valuation store.
func NewValuationStore() *ValuationStore {
	return &ValuationStore{}
}

// InsertBulk appends valuation points.
func (s *ValuationStore) InsertBulk(_ context.Context, points []*domain.ValuationPoint) error {
	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		pointCopy := *p
		s.data = append(s.data, &pointCopy)
	}
	return nil
}

// GetByTimeRange retrieves a constituent's points within [start, end] (inclusive).
func (s *ValuationStore) GetByTimeRange(_ context.Context, c domain.Constituent, start, end int64) ([]*domain.ValuationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ValuationPoint
	for _, p := range s.data {
		if p.Constituent == c && p.TimestampMs >= start && p.TimestampMs <= end {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	// Sort by timestamp ASC
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ValuationStore = (*ValuationStore)(nil)
