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
	"metal-basket-engine/internal/prices"
	"metal-basket-engine/internal/storage"
)

// Service orchestrates evaluation, planning and execution against storage,
// the ledger's holdings interface, the price source and custody.
type Service struct {
	requests storage.RebalanceStore
	policies storage.PolicyStore
	holdings HoldingsSource
	prices   prices.Source
	executor *Executor
}

// NewService creates a rebalance service.
func NewService(requests storage.RebalanceStore, policies storage.PolicyStore, holdings HoldingsSource, priceSource prices.Source, trader custody.Trader) *Service {
	return &Service{
		requests: requests,
		policies: policies,
		holdings: holdings,
		prices:   priceSource,
		executor: NewExecutor(requests, holdings, trader),
	}
}

// Evaluate runs a read-only evaluation of the current holdings.
func (s *Service) Evaluate(ctx context.Context) (*EvaluationResult, error) {
	holdings, policy, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Evaluate(holdings, policy, time.Now().UTC()), nil
}

// CreateRequest evaluates the basket and, when the evaluation is
// actionable, persists a PENDING request with its operations. A nil
// request with nil error means no rebalance is warranted: either nothing
// triggered, or only the schedule is overdue while the deviation stayed
// below threshold — schedule alone does not create a request.
func (s *Service) CreateRequest(ctx context.Context) (*domain.RebalanceRequest, []*domain.RebalanceOperation, error) {
	holdings, policy, err := s.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	eval := Evaluate(holdings, policy, now)
	observability.RecordEvaluation(eval.Needed, eval.MaxAbsDeviation.InexactFloat64())
	if !eval.Needed || !domain.GTEWithin(eval.MaxAbsDeviation, policy.MaxDeviationFraction) {
		return nil, nil, nil
	}

	priceTable, err := s.prices.Prices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get prices: %w", err)
	}

	req, ops, err := BuildPlan(eval, holdings, policy, priceTable, now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requests.InsertPlan(ctx, req, ops); err != nil {
		return nil, nil, fmt.Errorf("insert plan: %w", err)
	}
	observability.RecordRequestCreated(req.TriggerType.String())
	return req, ops, nil
}

// Approve approves a pending request.
func (s *Service) Approve(ctx context.Context, requestID, approverID string) error {
	return s.executor.Approve(ctx, requestID, approverID)
}

// Execute executes a ready request.
func (s *Service) Execute(ctx context.Context, requestID string) (*ExecutionResult, error) {
	return s.executor.Execute(ctx, requestID)
}

// GetRequest retrieves one request.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*domain.RebalanceRequest, error) {
	return s.requests.GetRequest(ctx, requestID)
}

// ListRequests retrieves all requests, newest first.
func (s *Service) ListRequests(ctx context.Context) ([]*domain.RebalanceRequest, error) {
	return s.requests.ListRequests(ctx)
}

// ListRequestsByStatus retrieves requests in the given status, newest first.
func (s *Service) ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.RebalanceRequest, error) {
	return s.requests.ListRequestsByStatus(ctx, status)
}

// ListOperations retrieves a request's operations.
func (s *Service) ListOperations(ctx context.Context, requestID string) ([]*domain.RebalanceOperation, error) {
	return s.requests.ListOperations(ctx, requestID)
}

// RunCycle is the daemon entry point: while an open (PENDING or APPROVED)
// request exists no new plan is created; otherwise the basket is evaluated
// and an actionable evaluation becomes a persisted request. With
// autoExecute, requests that need no approval are executed in the same
// cycle. Trade failures are recorded on the request and do not fail the
// cycle.
func (s *Service) RunCycle(ctx context.Context, autoExecute bool) error {
	open, err := s.openRequests(ctx)
	if err != nil {
		return err
	}

	if len(open) > 0 {
		if autoExecute {
			for _, req := range open {
				if req.Status != domain.StatusPending || req.ApprovalRequired {
					continue
				}
				s.autoExecuteRequest(ctx, req.ID)
			}
		}
		return nil
	}

	req, ops, err := s.CreateRequest(ctx)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	logger.S().Infow("created rebalance request",
		"request", req.ID,
		"trigger", req.TriggerType.String(),
		"reason", req.TriggerReason,
		"operations", len(ops),
		"approval_required", req.ApprovalRequired)

	if autoExecute && !req.ApprovalRequired {
		s.autoExecuteRequest(ctx, req.ID)
	}
	return nil
}

// autoExecuteRequest executes one request, logging instead of propagating
// trade and readiness failures.
func (s *Service) autoExecuteRequest(ctx context.Context, requestID string) {
	result, err := s.executor.Execute(ctx, requestID)
	switch {
	case err == nil:
		logger.S().Infow("executed rebalance request",
			"request", requestID, "operations", len(result.SucceededOps))
	case errors.Is(err, domain.ErrNotReady):
		// Another caller advanced the request in the meantime.
	default:
		logger.S().Warnw("rebalance execution failed",
			"request", requestID, "error", err)
	}
}

// openRequests returns PENDING and APPROVED requests.
func (s *Service) openRequests(ctx context.Context) ([]*domain.RebalanceRequest, error) {
	pending, err := s.requests.ListRequestsByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	approved, err := s.requests.ListRequestsByStatus(ctx, domain.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list approved requests: %w", err)
	}
	return append(pending, approved...), nil
}

// snapshot loads holdings and the policy, mapping a missing policy to
// ErrPolicyNotInitialized.
func (s *Service) snapshot(ctx context.Context) (*domain.AggregateHoldings, *domain.CompositionPolicy, error) {
	holdings, err := s.holdings.GetHoldings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get holdings: %w", err)
	}
	policy, err := s.policies.GetPolicy(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, domain.ErrPolicyNotInitialized
		}
		return nil, nil, fmt.Errorf("get policy: %w", err)
	}
	return holdings, policy, nil
}
