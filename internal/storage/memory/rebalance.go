package memory

import (
	"context"
	"sort"
	"time"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// InsertPlan atomically inserts a request and all its operations.
func (s *Store) InsertPlan(_ context.Context, req *domain.RebalanceRequest, ops []*domain.RebalanceOperation) error {
	if req == nil || req.ID == "" {
		return storage.ErrInvalidInput
	}
	for _, op := range ops {
		if op == nil || op.ID == "" || op.RequestID != req.ID {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.requests[req.ID] = req.Clone()
	stored := make([]*domain.RebalanceOperation, 0, len(ops))
	for _, op := range ops {
		stored = append(stored, op.Clone())
	}
	s.ops[req.ID] = stored
	return nil
}

// GetRequest retrieves a request by ID. Returns ErrNotFound if not exists.
func (s *Store) GetRequest(_ context.Context, requestID string) (*domain.RebalanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.requests[requestID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// ListRequests retrieves all requests, ordered by created_at DESC.
func (s *Store) ListRequests(_ context.Context) ([]*domain.RebalanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RebalanceRequest, 0, len(s.requests))
	for _, r := range s.requests {
		result = append(result, r.Clone())
	}
	sortRequestsDesc(result)
	return result, nil
}

// ListRequestsByStatus retrieves requests with the given status, ordered by created_at DESC.
func (s *Store) ListRequestsByStatus(_ context.Context, status domain.RequestStatus) ([]*domain.RebalanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RebalanceRequest
	for _, r := range s.requests {
		if r.Status == status {
			result = append(result, r.Clone())
		}
	}
	sortRequestsDesc(result)
	return result, nil
}

// ListOperations retrieves a request's operations, ordered by constituent ASC.
func (s *Store) ListOperations(_ context.Context, requestID string) ([]*domain.RebalanceOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.ops[requestID]
	result := make([]*domain.RebalanceOperation, 0, len(stored))
	for _, op := range stored {
		result = append(result, op.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Constituent < result[j].Constituent
	})
	return result, nil
}

// ApproveRequest transitions a PENDING request to APPROVED.
func (s *Store) ApproveRequest(_ context.Context, requestID, approver string, at time.Time) error {
	if requestID == "" || approver == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[requestID]
	if !exists {
		return storage.ErrNotFound
	}
	if r.Status != domain.StatusPending {
		return storage.ErrVersionConflict
	}

	r.Status = domain.StatusApproved
	r.ApprovedBy = approver
	r.ApprovedAt = at
	return nil
}

// FailRequest transitions a non-terminal request to FAILED.
func (s *Store) FailRequest(_ context.Context, requestID, reason string) error {
	if requestID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[requestID]
	if !exists {
		return storage.ErrNotFound
	}
	if r.Status.IsTerminal() {
		return storage.ErrVersionConflict
	}

	r.Status = domain.StatusFailed
	r.FailureReason = reason
	return nil
}

// CompleteExecution transitions the request from fromStatus to EXECUTED and
// replaces holdings, both under their respective conditions, atomically.
func (s *Store) CompleteExecution(_ context.Context, requestID string, fromStatus domain.RequestStatus, executedAt time.Time, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if requestID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[requestID]
	if !exists {
		return storage.ErrNotFound
	}
	if r.Status != fromStatus {
		return storage.ErrVersionConflict
	}
	if s.currentVersionLocked() != expectedVersion {
		return storage.ErrVersionConflict
	}

	r.Status = domain.StatusExecuted
	r.ExecutedAt = executedAt
	s.storeHoldingsLocked(holdings, expectedVersion)
	return nil
}

func sortRequestsDesc(requests []*domain.RebalanceRequest) {
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
}
