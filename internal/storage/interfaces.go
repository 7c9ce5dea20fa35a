package storage

import (
	"context"
	"time"

	"metal-basket-engine/internal/domain"
)

// LedgerStore provides access to basket_tokens and basket_holdings storage.
// Holdings writes are guarded by an optimistic version check: every mutation
// carries the version the caller read, and the store rejects the write when
// the stored version moved in the meantime.
type LedgerStore interface {
	// GetToken retrieves a basket token by ID. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, tokenID string) (*domain.BasketToken, error)

	// ListTokensByOwner retrieves all tokens held by owner, ordered by created_at ASC.
	ListTokensByOwner(ctx context.Context, owner string) ([]*domain.BasketToken, error)

	// GetHoldings retrieves the aggregate holdings record. First access
	// initializes and persists a zero record at version 0.
	GetHoldings(ctx context.Context) (*domain.AggregateHoldings, error)

	// ApplyMint atomically inserts the token and replaces holdings, provided
	// the stored holdings version still equals expectedVersion. On success
	// the stored version becomes expectedVersion+1. Returns
	// ErrVersionConflict when the version moved, ErrDuplicateKey if the
	// token ID already exists.
	ApplyMint(ctx context.Context, token *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error

	// ApplyRedemption atomically updates or deletes the token and replaces
	// holdings under the same version condition as ApplyMint. A nil remaining
	// deletes the token (full redemption). Returns ErrVersionConflict if the
	// holdings version moved, ErrNotFound if the token does not exist.
	ApplyRedemption(ctx context.Context, tokenID string, remaining *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error
}

// RebalanceStore provides access to rebalance_requests and
// rebalance_operations storage. Status transitions are conditional writes:
// the store applies them only from the expected prior status.
type RebalanceStore interface {
	// InsertPlan atomically inserts a request and all its operations.
	// Returns ErrDuplicateKey if the request ID already exists.
	InsertPlan(ctx context.Context, req *domain.RebalanceRequest, ops []*domain.RebalanceOperation) error

	// GetRequest retrieves a request by ID. Returns ErrNotFound if not exists.
	GetRequest(ctx context.Context, requestID string) (*domain.RebalanceRequest, error)

	// ListRequests retrieves all requests, ordered by created_at DESC.
	ListRequests(ctx context.Context) ([]*domain.RebalanceRequest, error)

	// ListRequestsByStatus retrieves requests with the given status, ordered by created_at DESC.
	ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.RebalanceRequest, error)

	// ListOperations retrieves a request's operations, ordered by constituent ASC.
	ListOperations(ctx context.Context, requestID string) ([]*domain.RebalanceOperation, error)

	// ApproveRequest transitions a PENDING request to APPROVED, recording the
	// approver and time. Returns ErrVersionConflict if the request is not
	// PENDING, ErrNotFound if it does not exist.
	ApproveRequest(ctx context.Context, requestID, approver string, at time.Time) error

	// FailRequest transitions a non-terminal request to FAILED with the given
	// reason. Returns ErrVersionConflict if the request is already terminal,
	// ErrNotFound if it does not exist.
	FailRequest(ctx context.Context, requestID, reason string) error

	// CompleteExecution atomically transitions the request from fromStatus to
	// EXECUTED and replaces aggregate holdings, provided the stored holdings
	// version still equals expectedVersion. On success the stored version
	// becomes expectedVersion+1. Returns ErrVersionConflict when either
	// condition fails; the caller disambiguates by re-reading.
	CompleteExecution(ctx context.Context, requestID string, fromStatus domain.RequestStatus, executedAt time.Time, holdings *domain.AggregateHoldings, expectedVersion int64) error
}

// PolicyStore provides access to composition_policies storage. The engine
// uses a single policy record; updates are out of scope for this store.
type PolicyStore interface {
	// GetPolicy retrieves the composition policy. Returns ErrNotFound when
	// the policy has not been initialized.
	GetPolicy(ctx context.Context) (*domain.CompositionPolicy, error)

	// InitPolicy stores the composition policy. Returns ErrDuplicateKey when
	// a policy already exists.
	InitPolicy(ctx context.Context, p *domain.CompositionPolicy) error
}

// ValuationStore provides access to valuation_history storage.
type ValuationStore interface {
	// InsertBulk appends valuation points. Duplicate timestamps are the
	// caller's concern; the history is append-only.
	InsertBulk(ctx context.Context, points []*domain.ValuationPoint) error

	// GetByTimeRange retrieves a constituent's points within [start, end]
	// (inclusive, unix milliseconds), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, c domain.Constituent, start, end int64) ([]*domain.ValuationPoint, error)
}
