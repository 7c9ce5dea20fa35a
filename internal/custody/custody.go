// Package custody defines the engine's external collaborators: the
// settlement accounts funding mints and receiving redemption payouts, the
// allocator moving constituent amounts into and out of the backing pools,
// and the trader executing rebalance operations. Production deployments
// plug in real integrations; Simulated serves development and tests.
package custody

import (
	"context"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

// Settlement is the cash side of mint and redemption.
type Settlement interface {
	// Balance returns the account's available funds.
	Balance(ctx context.Context, account string) (decimal.Decimal, error)

	// Debit withdraws amount from the account. Fails when available funds
	// are below amount.
	Debit(ctx context.Context, account string, amount decimal.Decimal) error

	// Credit deposits amount into the account.
	Credit(ctx context.Context, account string, amount decimal.Decimal) error
}

// Allocator moves constituent amounts into and out of the backing pools.
// It is always invoked with the exact amounts the engine computed.
type Allocator interface {
	// Allocate backs freshly minted value with per-constituent amounts.
	Allocate(ctx context.Context, amounts map[domain.Constituent]decimal.Decimal) error

	// Release frees per-constituent amounts on redemption.
	Release(ctx context.Context, amounts map[domain.Constituent]decimal.Decimal) error
}

// Trader executes one rebalance trade. A nil error is the only success
// signal the engine checks.
type Trader interface {
	ExecuteTrade(ctx context.Context, op *domain.RebalanceOperation) error
}
