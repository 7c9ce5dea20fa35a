package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerType identifies why a rebalance was deemed necessary.
type TriggerType string

const (
	TriggerDeviation TriggerType = "DEVIATION"
	TriggerTime      TriggerType = "TIME"
)

// String returns the string representation of TriggerType.
func (t TriggerType) String() string {
	return string(t)
}

// IsValid checks if the trigger type is a valid value.
func (t TriggerType) IsValid() bool {
	return t == TriggerDeviation || t == TriggerTime
}

// RequestStatus is a rebalance request's lifecycle state.
// Transitions: PENDING -> APPROVED -> EXECUTED, PENDING -> EXECUTED (only
// without approval requirement), any non-terminal -> FAILED.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusExecuted RequestStatus = "EXECUTED"
	StatusFailed   RequestStatus = "FAILED"
)

// String returns the string representation of RequestStatus.
func (s RequestStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s RequestStatus) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusExecuted || s == StatusFailed
}

// IsTerminal reports whether the status permits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// TradeDirection is the side of a rebalance trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "BUY"
	DirectionSell TradeDirection = "SELL"
)

// String returns the string representation of TradeDirection.
func (d TradeDirection) String() string {
	return string(d)
}

// RebalanceRequest is one actionable evaluation outcome.
// Corresponds to rebalance_requests table in PostgreSQL.
type RebalanceRequest struct {
	ID                string                          // REBAL-prefixed, globally unique
	TriggerType       TriggerType                     // DEVIATION | TIME
	TriggerReason     string                          // human-readable cause
	CurrentAllocation map[Constituent]decimal.Decimal // realized fractions at plan time
	TargetAllocation  map[Constituent]decimal.Decimal // policy target fractions
	Deviations        map[Constituent]decimal.Decimal // signed, current minus target
	ApprovalRequired  bool                            // largest trade reached the approval threshold
	Status            RequestStatus
	ApprovedBy        string    // approver account, empty until approved
	ApprovedAt        time.Time // zero until approved
	FailureReason     string    // set when status is FAILED
	CreatedAt         time.Time
	ExecutedAt        time.Time // zero until executed
}

// Clone returns a deep copy safe for the caller to mutate.
func (r *RebalanceRequest) Clone() *RebalanceRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CurrentAllocation = CloneAmounts(r.CurrentAllocation)
	cp.TargetAllocation = CloneAmounts(r.TargetAllocation)
	cp.Deviations = CloneAmounts(r.Deviations)
	return &cp
}

// RebalanceOperation is one constituent-level trade derived from a request.
// Immutable once created; the executor reads, never mutates.
// Corresponds to rebalance_operations table in PostgreSQL.
type RebalanceOperation struct {
	ID            string          // OP-prefixed, deterministic per request/constituent
	RequestID     string          // owning request, non-owning back-reference
	Constituent   Constituent     // asset traded
	Direction     TradeDirection  // SELL when overweight, BUY when underweight
	Amount        decimal.Decimal // basket units to trade
	PriceAtPlan   decimal.Decimal // constituent unit price when planned
	EstimatedCost decimal.Decimal // Amount * PriceAtPlan
}

// Clone returns a copy safe for the caller to mutate.
func (o *RebalanceOperation) Clone() *RebalanceOperation {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}
