package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metal-basket-engine/internal/custody"
	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/logger"
	"metal-basket-engine/internal/observability"
	"metal-basket-engine/internal/storage"
)

// commitRetries bounds holdings re-reads after a commit version conflict.
const commitRetries = 5

// HoldingsSource is the basket ledger's holdings read contract. The
// rebalance components never keep a private holdings copy.
type HoldingsSource interface {
	GetHoldings(ctx context.Context) (*domain.AggregateHoldings, error)
}

// ExecutionResult reports the outcome of one Execute call, per operation.
type ExecutionResult struct {
	RequestID    string
	Status       domain.RequestStatus // final request status
	SucceededOps []string
	FailedOps    []string
	SkippedOps   []string
	ExecutedAt   time.Time // set when Status is EXECUTED
}

// Executor drives a rebalance request through its state machine.
type Executor struct {
	requests storage.RebalanceStore
	holdings HoldingsSource
	trader   custody.Trader
}

// NewExecutor creates an executor.
func NewExecutor(requests storage.RebalanceStore, holdings HoldingsSource, trader custody.Trader) *Executor {
	return &Executor{
		requests: requests,
		holdings: holdings,
		trader:   trader,
	}
}

// Approve transitions a PENDING request that requires approval to APPROVED,
// recording the approver and time. Any other state is ErrInvalidState.
func (e *Executor) Approve(ctx context.Context, requestID, approverID string) error {
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("request %s: %w", requestID, err)
	}
	if !req.ApprovalRequired {
		return fmt.Errorf("request %s does not require approval: %w", requestID, domain.ErrInvalidState)
	}
	if req.Status != domain.StatusPending {
		return fmt.Errorf("request %s is %s: %w", requestID, req.Status, domain.ErrInvalidState)
	}

	if err := e.requests.ApproveRequest(ctx, requestID, approverID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Lost the race against another transition.
			return fmt.Errorf("request %s state changed: %w", requestID, domain.ErrInvalidState)
		}
		return fmt.Errorf("approve request: %w", err)
	}
	observability.RecordApproval()
	return nil
}

// Execute runs a ready request in two phases. Stage: every operation is
// traded through the custody trader; the first failure marks the request
// FAILED with the remaining operations skipped and leaves holdings
// untouched. Commit: one conditional store write transitions the request to
// EXECUTED and resets constituent totals to the request's target
// allocation, preserving the constituent sum exactly.
//
// A request is ready from APPROVED, or from PENDING when it does not
// require approval; anything else is ErrNotReady. Concurrent Execute calls
// on the same request resolve through the commit's conditional write: the
// loser observes the request leaving its ready state and returns
// ErrNotReady without double-applying.
func (e *Executor) Execute(ctx context.Context, requestID string) (*ExecutionResult, error) {
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if !executable(req) {
		return nil, notReady(req)
	}
	fromStatus := req.Status

	ops, err := e.requests.ListOperations(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	result := &ExecutionResult{RequestID: requestID}

	for i, op := range ops {
		if err := e.trader.ExecuteTrade(ctx, op); err != nil {
			result.FailedOps = append(result.FailedOps, op.ID)
			for _, rest := range ops[i+1:] {
				result.SkippedOps = append(result.SkippedOps, rest.ID)
			}
			result.Status = domain.StatusFailed
			observability.RecordExecution(domain.StatusFailed.String())

			reason := fmt.Sprintf("operation %s (%s %s): %v", op.ID, op.Direction, op.Constituent, err)
			if ferr := e.requests.FailRequest(ctx, requestID, reason); ferr != nil {
				logger.S().Errorw("mark rebalance request failed",
					"request", requestID, "error", ferr)
			}
			return result, fmt.Errorf("%s: %w", reason, domain.ErrOperationFailed)
		}
		result.SucceededOps = append(result.SucceededOps, op.ID)
		observability.RecordTrade(op.Constituent.String(), op.Direction.String())
	}

	for attempt := 0; attempt < commitRetries; attempt++ {
		holdings, err := e.holdings.GetHoldings(ctx)
		if err != nil {
			return nil, fmt.Errorf("get holdings: %w", err)
		}

		now := time.Now().UTC()
		expected := holdings.Version
		holdings.ConstituentTotals = domain.SplitByFractions(holdings.ConstituentSum(), req.TargetAllocation)
		holdings.RebalanceNeeded = false
		holdings.LastRebalanceAt = now

		err = e.requests.CompleteExecution(ctx, requestID, fromStatus, now, holdings, expected)
		if err == nil {
			result.Status = domain.StatusExecuted
			result.ExecutedAt = now
			observability.RecordExecution(domain.StatusExecuted.String())
			return result, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("complete execution: %w", err)
		}
		observability.RecordVersionConflict("execute")

		// The conflict is either the holdings version moving or another
		// caller advancing the request; re-read the request to tell.
		current, rerr := e.requests.GetRequest(ctx, requestID)
		if rerr != nil {
			return nil, fmt.Errorf("request %s: %w", requestID, rerr)
		}
		if current.Status != fromStatus {
			return nil, notReady(current)
		}
	}

	return nil, fmt.Errorf("complete execution after %d attempts: %w", commitRetries, storage.ErrVersionConflict)
}

func executable(req *domain.RebalanceRequest) bool {
	if req.Status == domain.StatusApproved {
		return true
	}
	return req.Status == domain.StatusPending && !req.ApprovalRequired
}

func notReady(req *domain.RebalanceRequest) error {
	return fmt.Errorf("request %s is %s (approval required: %t): %w",
		req.ID, req.Status, req.ApprovalRequired, domain.ErrNotReady)
}
