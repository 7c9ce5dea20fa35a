// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Ledger metrics
	TokensMinted         prometheus.Counter
	TokensRedeemed       *prometheus.CounterVec
	VersionConflicts     *prometheus.CounterVec
	CustodyCompensations *prometheus.CounterVec
	TotalSupply          prometheus.Gauge
	ConstituentTotals    *prometheus.GaugeVec

	// Rebalance metrics
	Evaluations      *prometheus.CounterVec
	MaxAbsDeviation  prometheus.Gauge
	RequestsCreated  *prometheus.CounterVec
	RequestsApproved prometheus.Counter
	Executions       *prometheus.CounterVec
	TradesExecuted   *prometheus.CounterVec

	// Valuation metrics
	SnapshotsRecorded prometheus.Counter
	PointsWritten     prometheus.Counter
	NAV               prometheus.Gauge

	// Price metrics
	TicksApplied   *prometheus.CounterVec
	CurrentPrice   *prometheus.GaugeVec
	FeedReconnects prometheus.Counter

	// Health metrics
	LastSuccessfulEvaluation prometheus.Gauge
	LastSuccessfulValuation  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "metal_basket"
	}

	return &Metrics{
		// Ledger metrics
		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_minted_total",
			Help:      "Total number of basket tokens minted",
		}),
		TokensRedeemed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_redeemed_total",
			Help:      "Total number of redemptions by mode",
		}, []string{"mode"}),
		VersionConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "version_conflicts_total",
			Help:      "Total number of holdings version conflicts by operation",
		}, []string{"operation"}),
		CustodyCompensations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "custody_compensations_total",
			Help:      "Total number of custody compensations after failed ledger writes",
		}, []string{"operation"}),
		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply",
			Help:      "Current basket token supply",
		}),
		ConstituentTotals: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "constituent_total",
			Help:      "Current basket-wide total per constituent",
		}, []string{"constituent"}),

		// Rebalance metrics
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "evaluations_total",
			Help:      "Total number of rebalance evaluations by outcome",
		}, []string{"outcome"}),
		MaxAbsDeviation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "max_abs_deviation",
			Help:      "Largest absolute allocation deviation at the last evaluation",
		}),
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "requests_created_total",
			Help:      "Total number of rebalance requests created by trigger",
		}, []string{"trigger"}),
		RequestsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "requests_approved_total",
			Help:      "Total number of rebalance requests approved",
		}),
		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "executions_total",
			Help:      "Total number of rebalance executions by final status",
		}, []string{"status"}),
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "trades_executed_total",
			Help:      "Total number of constituent trades executed",
		}, []string{"constituent", "direction"}),

		// Valuation metrics
		SnapshotsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "snapshots_total",
			Help:      "Total number of valuation snapshots recorded",
		}),
		PointsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "points_written_total",
			Help:      "Total number of valuation history points written",
		}),
		NAV: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "nav",
			Help:      "Basket net asset value at the last snapshot",
		}),

		// Price metrics
		TicksApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "ticks_applied_total",
			Help:      "Total number of price ticks applied by constituent",
		}, []string{"constituent"}),
		CurrentPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "current_price",
			Help:      "Last known unit price per constituent",
		}, []string{"constituent"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "feed_reconnects_total",
			Help:      "Total number of price feed reconnects",
		}),

		// Health metrics
		LastSuccessfulEvaluation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_evaluation_timestamp",
			Help:      "Unix timestamp of last successful evaluation cycle",
		}),
		LastSuccessfulValuation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_valuation_timestamp",
			Help:      "Unix timestamp of last successful valuation snapshot",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordMint increments the minted tokens counter.
func RecordMint() {
	DefaultMetrics.TokensMinted.Inc()
}

// RecordRedemption increments the redemption counter by mode.
func RecordRedemption(full bool) {
	mode := "partial"
	if full {
		mode = "full"
	}
	DefaultMetrics.TokensRedeemed.WithLabelValues(mode).Inc()
}

// RecordVersionConflict records a lost optimistic write for the operation.
func RecordVersionConflict(operation string) {
	DefaultMetrics.VersionConflicts.WithLabelValues(operation).Inc()
}

// RecordCompensation records a custody compensation for the operation.
func RecordCompensation(operation string) {
	DefaultMetrics.CustodyCompensations.WithLabelValues(operation).Inc()
}

// UpdateSupply updates the supply gauge.
func UpdateSupply(supply float64) {
	DefaultMetrics.TotalSupply.Set(supply)
}

// UpdateConstituentTotal updates one constituent's total gauge.
func UpdateConstituentTotal(constituent string, total float64) {
	DefaultMetrics.ConstituentTotals.WithLabelValues(constituent).Set(total)
}

// RecordEvaluation records an evaluation outcome and the observed deviation.
func RecordEvaluation(needed bool, maxAbsDeviation float64) {
	outcome := "not_needed"
	if needed {
		outcome = "needed"
	}
	DefaultMetrics.Evaluations.WithLabelValues(outcome).Inc()
	DefaultMetrics.MaxAbsDeviation.Set(maxAbsDeviation)
	DefaultMetrics.LastSuccessfulEvaluation.SetToCurrentTime()
}

// RecordRequestCreated records a created rebalance request by trigger.
func RecordRequestCreated(trigger string) {
	DefaultMetrics.RequestsCreated.WithLabelValues(trigger).Inc()
}

// RecordApproval increments the approved requests counter.
func RecordApproval() {
	DefaultMetrics.RequestsApproved.Inc()
}

// RecordExecution records an execution's final request status.
func RecordExecution(status string) {
	DefaultMetrics.Executions.WithLabelValues(status).Inc()
}

// RecordTrade records one executed constituent trade.
func RecordTrade(constituent, direction string) {
	DefaultMetrics.TradesExecuted.WithLabelValues(constituent, direction).Inc()
}

// RecordValuationSnapshot records a written snapshot and the observed NAV.
func RecordValuationSnapshot(points int, nav float64) {
	DefaultMetrics.SnapshotsRecorded.Inc()
	DefaultMetrics.PointsWritten.Add(float64(points))
	DefaultMetrics.NAV.Set(nav)
	DefaultMetrics.LastSuccessfulValuation.SetToCurrentTime()
}

// RecordPriceTick records an applied feed tick and the new price.
func RecordPriceTick(constituent string, price float64) {
	DefaultMetrics.TicksApplied.WithLabelValues(constituent).Inc()
	DefaultMetrics.CurrentPrice.WithLabelValues(constituent).Set(price)
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}
