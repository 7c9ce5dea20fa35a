// Package config loads engine configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/logger"
)

// Store backends and price source modes accepted in Config.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	PricesStatic = "static"
	PricesFeed   = "feed"
)

// Config is the engine configuration. Zero fields are filled with defaults
// by Load, so a partial file only needs the values it overrides.
type Config struct {
	Store         string `json:"store"`          // "memory" or "postgres"
	PostgresDSN   string `json:"postgres_dsn"`   // required for the postgres store
	ClickHouseDSN string `json:"clickhouse_dsn"` // valuation history; empty keeps history in memory
	HTTPAddr      string `json:"http_addr"`      // health/metrics/status listener

	EvaluationIntervalSec int  `json:"evaluation_interval_sec"` // rebalance cycle period
	ValuationIntervalSec  int  `json:"valuation_interval_sec"`  // snapshot period
	AutoExecute           bool `json:"auto_execute"`            // execute approval-free requests in the cycle

	PriceSource  string `json:"price_source"`   // "static" or "feed"
	PriceFeedURL string `json:"price_feed_url"` // websocket endpoint for the feed source

	Policy PolicyConfig  `json:"policy"`
	Log    logger.Config `json:"log"`
}

// PolicyConfig is the bootstrap composition policy. Amounts and fractions
// are decimal strings so the file round-trips without float drift.
type PolicyConfig struct {
	TargetFractions       map[string]string `json:"target_fractions"`
	MaxDeviation          string            `json:"max_deviation"`
	RebalanceIntervalDays int               `json:"rebalance_interval_days"`
	MinTradeAmount        string            `json:"min_trade_amount"`
	ApprovalThreshold     string            `json:"approval_threshold"`
}

// Default returns the reference configuration: in-memory store, static
// prices, the reference composition policy, console logging.
func Default() *Config {
	return &Config{
		Store:                 StoreMemory,
		HTTPAddr:              ":9090",
		EvaluationIntervalSec: 60,
		ValuationIntervalSec:  300,
		AutoExecute:           true,
		PriceSource:           PricesStatic,
		Policy: PolicyConfig{
			TargetFractions: map[string]string{
				domain.ConstituentGold.String():     "0.5",
				domain.ConstituentSilver.String():   "0.3",
				domain.ConstituentPlatinum.String(): "0.2",
			},
			MaxDeviation:          "0.05",
			RebalanceIntervalDays: 30,
			MinTradeAmount:        "1000",
			ApprovalThreshold:     "100000",
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads and decodes the JSON file at path, filling unset fields with
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills fields the file left at their zero value.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = def.HTTPAddr
	}
	if c.EvaluationIntervalSec == 0 {
		c.EvaluationIntervalSec = def.EvaluationIntervalSec
	}
	if c.ValuationIntervalSec == 0 {
		c.ValuationIntervalSec = def.ValuationIntervalSec
	}
	if c.PriceSource == "" {
		c.PriceSource = def.PriceSource
	}
	if len(c.Policy.TargetFractions) == 0 {
		c.Policy.TargetFractions = def.Policy.TargetFractions
	}
	if c.Policy.MaxDeviation == "" {
		c.Policy.MaxDeviation = def.Policy.MaxDeviation
	}
	if c.Policy.RebalanceIntervalDays == 0 {
		c.Policy.RebalanceIntervalDays = def.Policy.RebalanceIntervalDays
	}
	if c.Policy.MinTradeAmount == "" {
		c.Policy.MinTradeAmount = def.Policy.MinTradeAmount
	}
	if c.Policy.ApprovalThreshold == "" {
		c.Policy.ApprovalThreshold = def.Policy.ApprovalThreshold
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}
	if c.Log.File == "" {
		c.Log.File = def.Log.File
	}
}

// Validate checks the configuration for use by the daemon.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres store requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.PriceSource {
	case PricesStatic:
	case PricesFeed:
		if c.PriceFeedURL == "" {
			return fmt.Errorf("feed price source requires price_feed_url")
		}
	default:
		return fmt.Errorf("unknown price source %q", c.PriceSource)
	}

	if c.EvaluationIntervalSec <= 0 {
		return fmt.Errorf("evaluation interval must be positive, got %d", c.EvaluationIntervalSec)
	}
	if c.ValuationIntervalSec <= 0 {
		return fmt.Errorf("valuation interval must be positive, got %d", c.ValuationIntervalSec)
	}

	if _, err := c.Policy.ToPolicy(time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

// EvaluationInterval returns the rebalance cycle period.
func (c *Config) EvaluationInterval() time.Duration {
	return time.Duration(c.EvaluationIntervalSec) * time.Second
}

// ValuationInterval returns the valuation snapshot period.
func (c *Config) ValuationInterval() time.Duration {
	return time.Duration(c.ValuationIntervalSec) * time.Second
}

// ToPolicy converts the bootstrap policy into its domain form, validated.
func (p *PolicyConfig) ToPolicy(now time.Time) (*domain.CompositionPolicy, error) {
	fractions := make(map[domain.Constituent]decimal.Decimal, len(p.TargetFractions))
	for name, value := range p.TargetFractions {
		c := domain.Constituent(name)
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown constituent %q in target fractions", name)
		}
		f, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("target fraction for %s: %w", name, err)
		}
		fractions[c] = f
	}

	maxDev, err := decimal.NewFromString(p.MaxDeviation)
	if err != nil {
		return nil, fmt.Errorf("max deviation: %w", err)
	}
	minTrade, err := decimal.NewFromString(p.MinTradeAmount)
	if err != nil {
		return nil, fmt.Errorf("min trade amount: %w", err)
	}
	approval, err := decimal.NewFromString(p.ApprovalThreshold)
	if err != nil {
		return nil, fmt.Errorf("approval threshold: %w", err)
	}

	policy := &domain.CompositionPolicy{
		TargetFractions:       fractions,
		MaxDeviationFraction:  maxDev,
		RebalanceIntervalDays: p.RebalanceIntervalDays,
		MinTradeAmount:        minTrade,
		ApprovalThreshold:     approval,
		CreatedAt:             now,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return policy, nil
}
