package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// RebalanceStore implements storage.RebalanceStore using PostgreSQL.
type RebalanceStore struct {
	pool *Pool
}

// NewRebalanceStore creates a new RebalanceStore.
func NewRebalanceStore(pool *Pool) *RebalanceStore {
	return &RebalanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RebalanceStore = (*RebalanceStore)(nil)

const selectRequestSQL = `
	SELECT request_id, trigger_type, trigger_reason,
	       current_allocation, target_allocation, deviations,
	       approval_required, status, approved_by, approved_at,
	       failure_reason, created_at, executed_at
	FROM rebalance_requests
`

// InsertPlan atomically inserts a request and all its operations.
func (s *RebalanceStore) InsertPlan(ctx context.Context, req *domain.RebalanceRequest, ops []*domain.RebalanceOperation) error {
	if req == nil || req.ID == "" {
		return storage.ErrInvalidInput
	}
	for _, op := range ops {
		if op == nil || op.ID == "" || op.RequestID != req.ID {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO rebalance_requests (
			request_id, trigger_type, trigger_reason,
			current_allocation, target_allocation, deviations,
			approval_required, status, approved_by, approved_at,
			failure_reason, created_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if _, err := tx.Exec(ctx, query,
		req.ID, req.TriggerType, req.TriggerReason,
		req.CurrentAllocation, req.TargetAllocation, req.Deviations,
		req.ApprovalRequired, req.Status, req.ApprovedBy, nullableTime(req.ApprovedAt),
		req.FailureReason, req.CreatedAt, nullableTime(req.ExecutedAt),
	); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert rebalance request: %w", err)
	}

	opQuery := `
		INSERT INTO rebalance_operations (
			operation_id, request_id, constituent, direction, amount, price_at_plan, estimated_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, op := range ops {
		if _, err := tx.Exec(ctx, opQuery,
			op.ID, op.RequestID, op.Constituent, op.Direction,
			op.Amount, op.PriceAtPlan, op.EstimatedCost,
		); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert rebalance operation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID. Returns ErrNotFound if not exists.
func (s *RebalanceStore) GetRequest(ctx context.Context, requestID string) (*domain.RebalanceRequest, error) {
	row := s.pool.QueryRow(ctx, selectRequestSQL+` WHERE request_id = $1`, requestID)
	r, err := scanRequest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get rebalance request: %w", err)
	}
	return r, nil
}

// ListRequests retrieves all requests, ordered by created_at DESC.
func (s *RebalanceStore) ListRequests(ctx context.Context) ([]*domain.RebalanceRequest, error) {
	rows, err := s.pool.Query(ctx, selectRequestSQL+` ORDER BY created_at DESC, request_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rebalance requests: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListRequestsByStatus retrieves requests with the given status, ordered by created_at DESC.
func (s *RebalanceStore) ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.RebalanceRequest, error) {
	rows, err := s.pool.Query(ctx, selectRequestSQL+` WHERE status = $1 ORDER BY created_at DESC, request_id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list rebalance requests by status: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListOperations retrieves a request's operations, ordered by constituent ASC.
func (s *RebalanceStore) ListOperations(ctx context.Context, requestID string) ([]*domain.RebalanceOperation, error) {
	query := `
		SELECT operation_id, request_id, constituent, direction, amount, price_at_plan, estimated_cost
		FROM rebalance_operations
		WHERE request_id = $1
		ORDER BY constituent ASC
	`

	rows, err := s.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list rebalance operations: %w", err)
	}
	defer rows.Close()

	var ops []*domain.RebalanceOperation
	for rows.Next() {
		var op domain.RebalanceOperation
		if err := rows.Scan(
			&op.ID, &op.RequestID, &op.Constituent, &op.Direction,
			&op.Amount, &op.PriceAtPlan, &op.EstimatedCost,
		); err != nil {
			return nil, fmt.Errorf("scan rebalance operation row: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rebalance operation rows: %w", err)
	}
	return ops, nil
}

// ApproveRequest transitions a PENDING request to APPROVED.
func (s *RebalanceStore) ApproveRequest(ctx context.Context, requestID, approver string, at time.Time) error {
	if requestID == "" || approver == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE rebalance_requests
		SET status = $2, approved_by = $3, approved_at = $4
		WHERE request_id = $1 AND status = $5
	`
	ct, err := s.pool.Exec(ctx, query, requestID, domain.StatusApproved, approver, at, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("approve rebalance request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.conditionFailure(ctx, requestID)
	}
	return nil
}

// FailRequest transitions a non-terminal request to FAILED.
func (s *RebalanceStore) FailRequest(ctx context.Context, requestID, reason string) error {
	if requestID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE rebalance_requests
		SET status = $2, failure_reason = $3
		WHERE request_id = $1 AND status NOT IN ($4, $5)
	`
	ct, err := s.pool.Exec(ctx, query, requestID, domain.StatusFailed, reason, domain.StatusExecuted, domain.StatusFailed)
	if err != nil {
		return fmt.Errorf("fail rebalance request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.conditionFailure(ctx, requestID)
	}
	return nil
}

// CompleteExecution transitions the request from fromStatus to EXECUTED and
// replaces holdings, both conditionally, in one transaction.
func (s *RebalanceStore) CompleteExecution(ctx context.Context, requestID string, fromStatus domain.RequestStatus, executedAt time.Time, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if requestID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE rebalance_requests
		SET status = $2, executed_at = $3
		WHERE request_id = $1 AND status = $4
	`
	ct, err := tx.Exec(ctx, query, requestID, domain.StatusExecuted, executedAt, fromStatus)
	if err != nil {
		return fmt.Errorf("mark request executed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.conditionFailure(ctx, requestID)
	}

	if err := ensureHoldingsTx(ctx, tx); err != nil {
		return err
	}
	if err := updateHoldingsTx(ctx, tx, holdings, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// conditionFailure distinguishes a missing request from one in the wrong
// state after a conditional update touched no rows.
func (s *RebalanceStore) conditionFailure(ctx context.Context, requestID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rebalance_requests WHERE request_id = $1)`, requestID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check rebalance request existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

// scanRequest scans a single row into a RebalanceRequest.
func scanRequest(row pgx.Row) (*domain.RebalanceRequest, error) {
	var r domain.RebalanceRequest
	var approvedAt, executedAt *time.Time

	err := row.Scan(
		&r.ID, &r.TriggerType, &r.TriggerReason,
		&r.CurrentAllocation, &r.TargetAllocation, &r.Deviations,
		&r.ApprovalRequired, &r.Status, &r.ApprovedBy, &approvedAt,
		&r.FailureReason, &r.CreatedAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}
	if approvedAt != nil {
		r.ApprovedAt = *approvedAt
	}
	if executedAt != nil {
		r.ExecutedAt = *executedAt
	}
	return &r, nil
}

// scanRequests scans multiple rows into a slice of RebalanceRequest.
func scanRequests(rows pgx.Rows) ([]*domain.RebalanceRequest, error) {
	var requests []*domain.RebalanceRequest

	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rebalance request row: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rebalance request rows: %w", err)
	}
	return requests, nil
}
