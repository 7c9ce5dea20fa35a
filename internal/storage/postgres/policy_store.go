package postgres

import (
	"context"
	"fmt"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// PolicyStore implements storage.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool *Pool
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(pool *Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PolicyStore = (*PolicyStore)(nil)

// GetPolicy retrieves the composition policy. Returns ErrNotFound when the
// policy has not been initialized.
func (s *PolicyStore) GetPolicy(ctx context.Context) (*domain.CompositionPolicy, error) {
	query := `
		SELECT target_fractions, max_deviation_fraction, rebalance_interval_days,
		       min_trade_amount, approval_threshold, created_at
		FROM composition_policies
		WHERE policy_key = $1
	`

	var p domain.CompositionPolicy
	err := s.pool.QueryRow(ctx, query, policyKey).Scan(
		&p.TargetFractions, &p.MaxDeviationFraction, &p.RebalanceIntervalDays,
		&p.MinTradeAmount, &p.ApprovalThreshold, &p.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get composition policy: %w", err)
	}
	return &p, nil
}

// InitPolicy stores the composition policy. Returns ErrDuplicateKey when a
// policy already exists.
func (s *PolicyStore) InitPolicy(ctx context.Context, p *domain.CompositionPolicy) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO composition_policies (
			policy_key, target_fractions, max_deviation_fraction,
			rebalance_interval_days, min_trade_amount, approval_threshold, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.pool.Exec(ctx, query,
		policyKey, p.TargetFractions, p.MaxDeviationFraction,
		p.RebalanceIntervalDays, p.MinTradeAmount, p.ApprovalThreshold, p.CreatedAt,
	); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert composition policy: %w", err)
	}
	return nil
}
