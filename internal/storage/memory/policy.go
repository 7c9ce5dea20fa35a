package memory

import (
	"context"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// GetPolicy retrieves the composition policy. Returns ErrNotFound when the
// policy has not been initialized.
func (s *Store) GetPolicy(_ context.Context) (*domain.CompositionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.policy == nil {
		return nil, storage.ErrNotFound
	}
	return s.policy.Clone(), nil
}

// InitPolicy stores the composition policy. Returns ErrDuplicateKey when a
// policy already exists.
func (s *Store) InitPolicy(_ context.Context, p *domain.CompositionPolicy) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy != nil {
		return storage.ErrDuplicateKey
	}
	s.policy = p.Clone()
	return nil
}
