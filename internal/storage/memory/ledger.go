package memory

import (
	"context"
	"sort"
	"time"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// GetToken retrieves a basket token by ID. Returns ErrNotFound if not exists.
func (s *Store) GetToken(_ context.Context, tokenID string) (*domain.BasketToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tokens[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// ListTokensByOwner retrieves all tokens held by owner, ordered by created_at ASC.
func (s *Store) ListTokensByOwner(_ context.Context, owner string) ([]*domain.BasketToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BasketToken
	for _, t := range s.tokens {
		if t.Owner == owner {
			result = append(result, t.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// GetHoldings retrieves the aggregate holdings record, initializing the zero
// record on first access.
func (s *Store) GetHoldings(_ context.Context) (*domain.AggregateHoldings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holdings == nil {
		s.holdings = domain.NewZeroHoldings(time.Now().UTC())
	}
	return s.holdings.Clone(), nil
}

// ApplyMint atomically inserts the token and replaces holdings under the
// optimistic version check.
func (s *Store) ApplyMint(_ context.Context, token *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if token == nil || token.ID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentVersionLocked() != expectedVersion {
		return storage.ErrVersionConflict
	}
	if _, exists := s.tokens[token.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store copies to prevent external mutation
	s.tokens[token.ID] = token.Clone()
	s.storeHoldingsLocked(holdings, expectedVersion)
	return nil
}

// ApplyRedemption atomically updates or deletes the token and replaces
// holdings under the optimistic version check. A nil remaining deletes the
// token.
func (s *Store) ApplyRedemption(_ context.Context, tokenID string, remaining *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if tokenID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentVersionLocked() != expectedVersion {
		return storage.ErrVersionConflict
	}
	if _, exists := s.tokens[tokenID]; !exists {
		return storage.ErrNotFound
	}

	if remaining == nil {
		delete(s.tokens, tokenID)
	} else {
		s.tokens[tokenID] = remaining.Clone()
	}
	s.storeHoldingsLocked(holdings, expectedVersion)
	return nil
}
