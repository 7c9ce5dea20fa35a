// Package ledger implements mint and redemption over the basket ledger.
//
// Every holdings mutation is a conditional write on the version read
// beforehand; on ErrVersionConflict the service re-reads and retries a
// bounded number of times. Custody collaborators are invoked before the
// ledger write (funds first), and compensated when the write ultimately
// fails.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/custody"
	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/ids"
	"metal-basket-engine/internal/logger"
	"metal-basket-engine/internal/observability"
	"metal-basket-engine/internal/storage"
)

// mutationRetries bounds re-reads after a holdings version conflict.
const mutationRetries = 5

// Service is the basket ledger service.
type Service struct {
	store      storage.LedgerStore
	policies   storage.PolicyStore
	settlement custody.Settlement
	allocator  custody.Allocator
}

// NewService creates a ledger service.
func NewService(store storage.LedgerStore, policies storage.PolicyStore, settlement custody.Settlement, allocator custody.Allocator) *Service {
	return &Service{
		store:      store,
		policies:   policies,
		settlement: settlement,
		allocator:  allocator,
	}
}

// Mint issues a new basket token worth amount to owner. The amount is split
// across constituents by the policy's target fractions, the settlement
// account is debited and the allocation backed before the ledger write.
func (s *Service) Mint(ctx context.Context, owner string, amount decimal.Decimal) (*domain.BasketToken, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("mint amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	amount = domain.RoundAmount(amount)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("mint amount rounds to zero: %w", domain.ErrInvalidAmount)
	}

	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := s.settlement.Balance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("settlement balance: %w", err)
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("balance %s below mint amount %s: %w", balance, amount, domain.ErrInsufficientFunds)
	}

	allocation := domain.SplitByFractions(amount, policy.TargetFractions)

	if err := s.settlement.Debit(ctx, owner, amount); err != nil {
		return nil, fmt.Errorf("settlement debit: %w", err)
	}
	if err := s.allocator.Allocate(ctx, allocation); err != nil {
		if cerr := s.settlement.Credit(ctx, owner, amount); cerr != nil {
			logger.S().Errorw("mint compensation: credit failed, manual reconciliation required",
				"owner", owner, "amount", amount.String(), "error", cerr)
		}
		return nil, fmt.Errorf("allocate constituents: %w", err)
	}

	now := time.Now().UTC()
	token := &domain.BasketToken{
		ID:                 ids.NewTokenID(),
		Owner:              owner,
		TotalValue:         amount,
		ConstituentAmounts: allocation,
		CreatedAt:          now,
		LastRebalancedAt:   now,
	}

	for attempt := 0; attempt < mutationRetries; attempt++ {
		holdings, err := s.store.GetHoldings(ctx)
		if err != nil {
			s.compensateMint(ctx, owner, amount, allocation)
			return nil, fmt.Errorf("get holdings: %w", err)
		}

		expected := holdings.Version
		holdings.TotalSupply = holdings.TotalSupply.Add(amount)
		for _, c := range domain.SortedConstituents(allocation) {
			holdings.ConstituentTotals[c] = holdings.ConstituentTotals[c].Add(allocation[c])
		}
		holdings.RebalanceNeeded = policy.RebalanceNeeded(holdings, now)

		err = s.store.ApplyMint(ctx, token, holdings, expected)
		if err == nil {
			observability.RecordMint()
			updateHoldingsGauges(holdings)
			return token, nil
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RecordVersionConflict("mint")
			continue
		}

		s.compensateMint(ctx, owner, amount, allocation)
		return nil, fmt.Errorf("apply mint: %w", err)
	}

	s.compensateMint(ctx, owner, amount, allocation)
	return nil, fmt.Errorf("apply mint after %d attempts: %w", mutationRetries, storage.ErrVersionConflict)
}

// Redeem burns amount from the token and releases the matching constituent
// amounts from custody. Redeeming the token's full value deletes the
// record. The settlement payout is the caller's step after return.
func (s *Service) Redeem(ctx context.Context, tokenID, owner string, amount decimal.Decimal) (*domain.RedemptionResult, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("redeem amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	amount = domain.RoundAmount(amount)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("redeem amount rounds to zero: %w", domain.ErrInvalidAmount)
	}

	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < mutationRetries; attempt++ {
		token, err := s.store.GetToken(ctx, tokenID)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", tokenID, err)
		}
		if token.Owner != owner {
			return nil, fmt.Errorf("token %s not owned by %s: %w", tokenID, owner, domain.ErrUnauthorized)
		}
		if amount.GreaterThan(token.TotalValue) {
			return nil, fmt.Errorf("redeem %s exceeds token value %s: %w", amount, token.TotalValue, domain.ErrInsufficientBalance)
		}

		// Full redemption releases the exact stored amounts; partial splits
		// the amount in proportion to them.
		full := amount.Equal(token.TotalValue)
		var reductions map[domain.Constituent]decimal.Decimal
		if full {
			reductions = domain.CloneAmounts(token.ConstituentAmounts)
		} else {
			reductions = domain.SplitProportional(amount, token.ConstituentAmounts)
		}

		holdings, err := s.store.GetHoldings(ctx)
		if err != nil {
			return nil, fmt.Errorf("get holdings: %w", err)
		}

		now := time.Now().UTC()
		expected := holdings.Version
		holdings.TotalSupply = holdings.TotalSupply.Sub(amount)
		for _, c := range domain.SortedConstituents(reductions) {
			holdings.ConstituentTotals[c] = holdings.ConstituentTotals[c].Sub(reductions[c])
		}
		holdings.RebalanceNeeded = policy.RebalanceNeeded(holdings, now)

		var remaining *domain.BasketToken
		if !full {
			remaining = token.Clone()
			remaining.TotalValue = token.TotalValue.Sub(amount)
			for _, c := range domain.SortedConstituents(reductions) {
				remaining.ConstituentAmounts[c] = remaining.ConstituentAmounts[c].Sub(reductions[c])
			}
		}

		if err := s.allocator.Release(ctx, reductions); err != nil {
			return nil, fmt.Errorf("release constituents: %w", err)
		}

		err = s.store.ApplyRedemption(ctx, tokenID, remaining, holdings, expected)
		if err == nil {
			observability.RecordRedemption(full)
			updateHoldingsGauges(holdings)
			result := &domain.RedemptionResult{
				TokenID:            tokenID,
				Owner:              owner,
				Amount:             amount,
				ConstituentAmounts: reductions,
				FullyRedeemed:      full,
			}
			if remaining != nil {
				result.RemainingValue = remaining.TotalValue
			}
			return result, nil
		}

		// The released amounts may be stale on the next attempt, so put
		// them back before re-reading.
		observability.RecordCompensation("redeem")
		if aerr := s.allocator.Allocate(ctx, reductions); aerr != nil {
			logger.S().Errorw("redeem compensation: re-allocate failed, manual reconciliation required",
				"token", tokenID, "amount", amount.String(), "error", aerr)
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RecordVersionConflict("redeem")
			continue
		}
		return nil, fmt.Errorf("apply redemption: %w", err)
	}

	return nil, fmt.Errorf("apply redemption after %d attempts: %w", mutationRetries, storage.ErrVersionConflict)
}

// GetToken retrieves a basket token by ID.
func (s *Service) GetToken(ctx context.Context, tokenID string) (*domain.BasketToken, error) {
	return s.store.GetToken(ctx, tokenID)
}

// ListTokensByOwner retrieves all tokens held by owner.
func (s *Service) ListTokensByOwner(ctx context.Context, owner string) ([]*domain.BasketToken, error) {
	return s.store.ListTokensByOwner(ctx, owner)
}

// GetHoldings retrieves the aggregate holdings record.
func (s *Service) GetHoldings(ctx context.Context) (*domain.AggregateHoldings, error) {
	return s.store.GetHoldings(ctx)
}

// policy loads the composition policy, mapping a missing record to
// ErrPolicyNotInitialized.
func (s *Service) policy(ctx context.Context) (*domain.CompositionPolicy, error) {
	policy, err := s.policies.GetPolicy(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrPolicyNotInitialized
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// compensateMint undoes the settlement debit and constituent allocation
// after a failed ledger write.
func (s *Service) compensateMint(ctx context.Context, owner string, amount decimal.Decimal, allocation map[domain.Constituent]decimal.Decimal) {
	observability.RecordCompensation("mint")
	if err := s.allocator.Release(ctx, allocation); err != nil {
		logger.S().Errorw("mint compensation: release failed, manual reconciliation required",
			"owner", owner, "amount", amount.String(), "error", err)
	}
	if err := s.settlement.Credit(ctx, owner, amount); err != nil {
		logger.S().Errorw("mint compensation: credit failed, manual reconciliation required",
			"owner", owner, "amount", amount.String(), "error", err)
	}
}

// updateHoldingsGauges publishes the post-write supply and totals.
func updateHoldingsGauges(h *domain.AggregateHoldings) {
	observability.UpdateSupply(h.TotalSupply.InexactFloat64())
	for _, c := range domain.SortedConstituents(h.ConstituentTotals) {
		observability.UpdateConstituentTotal(c.String(), h.ConstituentTotals[c].InexactFloat64())
	}
}
