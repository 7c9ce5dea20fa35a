package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

// openingBalance is the funds every simulated settlement account starts
// with on first access.
var openingBalance = decimal.NewFromInt(1000000)

// Simulated implements Settlement, Allocator and Trader in memory.
// Accounts are opened lazily with openingBalance; allocations and executed
// trades are recorded for inspection. Trade failures can be injected per
// constituent to exercise execution failure paths.
type Simulated struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allocated  map[domain.Constituent]decimal.Decimal
	trades     []*domain.RebalanceOperation
	failTrades map[domain.Constituent]bool
}

// NewSimulated creates an empty simulated custody backend.
func NewSimulated() *Simulated {
	return &Simulated{
		balances:   make(map[string]decimal.Decimal),
		allocated:  make(map[domain.Constituent]decimal.Decimal),
		failTrades: make(map[domain.Constituent]bool),
	}
}

// Balance returns the account's funds, opening the account if needed.
func (s *Simulated) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(account), nil
}

// Debit withdraws amount from the account.
func (s *Simulated) Debit(_ context.Context, account string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("debit: non-positive amount %s", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balanceLocked(account)
	if balance.LessThan(amount) {
		return fmt.Errorf("debit %s: %w", account, domain.ErrInsufficientFunds)
	}
	s.balances[account] = balance.Sub(amount)
	return nil
}

// Credit deposits amount into the account.
func (s *Simulated) Credit(_ context.Context, account string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("credit: non-positive amount %s", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[account] = s.balanceLocked(account).Add(amount)
	return nil
}

// SetBalance overrides the account's funds.
func (s *Simulated) SetBalance(account string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
}

// Allocate records the per-constituent amounts as backed.
func (s *Simulated) Allocate(_ context.Context, amounts map[domain.Constituent]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range domain.SortedConstituents(amounts) {
		s.allocated[c] = s.allocated[c].Add(amounts[c])
	}
	return nil
}

// Release frees the per-constituent amounts.
func (s *Simulated) Release(_ context.Context, amounts map[domain.Constituent]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range domain.SortedConstituents(amounts) {
		s.allocated[c] = s.allocated[c].Sub(amounts[c])
	}
	return nil
}

// ExecuteTrade records the trade, or fails if a failure was injected for
// the operation's constituent.
func (s *Simulated) ExecuteTrade(_ context.Context, op *domain.RebalanceOperation) error {
	if op == nil {
		return fmt.Errorf("execute trade: nil operation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failTrades[op.Constituent] {
		return fmt.Errorf("execute trade %s: injected failure", op.Constituent)
	}
	s.trades = append(s.trades, op.Clone())
	return nil
}

// FailTrade makes subsequent ExecuteTrade calls for the constituent fail.
func (s *Simulated) FailTrade(c domain.Constituent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTrades[c] = true
}

// AllocatedAmounts returns a copy of the net allocated amount per
// constituent.
func (s *Simulated) AllocatedAmounts() map[domain.Constituent]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneAmounts(s.allocated)
}

// Trades returns a copy of the successfully executed trades, in order.
func (s *Simulated) Trades() []*domain.RebalanceOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.RebalanceOperation, 0, len(s.trades))
	for _, op := range s.trades {
		out = append(out, op.Clone())
	}
	return out
}

func (s *Simulated) balanceLocked(account string) decimal.Decimal {
	balance, ok := s.balances[account]
	if !ok {
		balance = openingBalance
		s.balances[account] = balance
	}
	return balance
}

var (
	_ Settlement = (*Simulated)(nil)
	_ Allocator  = (*Simulated)(nil)
	_ Trader     = (*Simulated)(nil)
)
