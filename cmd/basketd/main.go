// Package main provides the basket engine daemon that runs all components
// together:
// - Evaluation cycle (scheduled): deviation/schedule checks, trade planning,
//   optional auto-execution of approval-free requests
// - Valuation snapshots (scheduled): NAV and allocation history rows
// - Price feed (continuous, optional): websocket sub-token tickers
// - HTTP: /health, /metrics (Prometheus), /status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"metal-basket-engine/internal/config"
	"metal-basket-engine/internal/custody"
	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/ledger"
	"metal-basket-engine/internal/logger"
	"metal-basket-engine/internal/nav"
	"metal-basket-engine/internal/observability"
	"metal-basket-engine/internal/prices"
	"metal-basket-engine/internal/rebalance"
	"metal-basket-engine/internal/storage"
	chstore "metal-basket-engine/internal/storage/clickhouse"
	"metal-basket-engine/internal/storage/memory"
	"metal-basket-engine/internal/storage/migrations"
	pgstore "metal-basket-engine/internal/storage/postgres"
	"metal-basket-engine/internal/valuation"
)

// engineStores holds the storage implementations behind the services.
type engineStores struct {
	ledger    storage.LedgerStore
	rebalance storage.RebalanceStore
	policies  storage.PolicyStore
	valuation storage.ValuationStore
}

// daemon holds the wired components and run state.
type daemon struct {
	cfg *config.Config

	ledgerSvc    *ledger.Service
	rebalanceSvc *rebalance.Service
	recorder     *valuation.Recorder
	prices       prices.Source

	mu             sync.Mutex
	started        time.Time
	lastEvaluation time.Time
	lastValuation  time.Time
	evaluationRuns int
	valuationRuns  int
}

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("BASKETD_CONFIG"), "Path to JSON config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (overrides config)")
	httpAddr := flag.String("http-addr", "", "Health/metrics HTTP address (overrides config)")
	flag.Parse()

	stdlog := log.New(os.Stdout, "[basketd] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.ClickHouseDSN = *clickhouseDSN
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid config: %v", err)
	}

	logger.Init(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	if err := bootstrapPolicy(ctx, cfg, stores.policies); err != nil {
		stdlog.Fatalf("Failed to bootstrap policy: %v", err)
	}

	priceSource, closeFeed, err := createPriceSource(ctx, cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create price source: %v", err)
	}
	defer closeFeed()

	sim := custody.NewSimulated()
	ledgerSvc := ledger.NewService(stores.ledger, stores.policies, sim, sim)
	rebalanceSvc := rebalance.NewService(stores.rebalance, stores.policies, ledgerSvc, priceSource, sim)
	recorder := valuation.NewRecorder(ledgerSvc, stores.policies, priceSource, stores.valuation)

	d := &daemon{
		cfg:          cfg,
		ledgerSvc:    ledgerSvc,
		rebalanceSvc: rebalanceSvc,
		recorder:     recorder,
		prices:       priceSource,
		started:      time.Now().UTC(),
	}

	// Handle shutdown signals; a second signal forces immediate exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.S().Infow("received signal, shutting down", "signal", sig.String())
		cancel()
		select {
		case sig := <-sigCh:
			logger.S().Warnw("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.S().Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.S().Infow("starting basket engine daemon",
		"store", cfg.Store,
		"price_source", cfg.PriceSource,
		"evaluation_interval", cfg.EvaluationInterval().String(),
		"valuation_interval", cfg.ValuationInterval().String(),
		"auto_execute", cfg.AutoExecute,
		"http_addr", cfg.HTTPAddr)

	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stdlog.Fatalf("Daemon error: %v", err)
	}
	logger.S().Info("shutdown complete")
}

// createStores builds the configured storage backends.
func createStores(ctx context.Context, cfg *config.Config) (*engineStores, func(), error) {
	if cfg.Store == config.StoreMemory {
		store := memory.NewStore()
		return &engineStores{
			ledger:    store,
			rebalance: store,
			policies:  store,
			valuation: memory.NewValuationStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	stores := &engineStores{
		ledger:    pgstore.NewLedgerStore(pool),
		rebalance: pgstore.NewRebalanceStore(pool),
		policies:  pgstore.NewPolicyStore(pool),
	}

	// Valuation history goes to ClickHouse when configured, otherwise it
	// stays process-local.
	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply clickhouse migrations: %w", err)
		}
		stores.valuation = chstore.NewValuationStore(conn)
		return stores, func() {
			conn.Close()
			pool.Close()
		}, nil
	}

	stores.valuation = memory.NewValuationStore()
	return stores, pool.Close, nil
}

// bootstrapPolicy initializes the composition policy from config when the
// store has none yet.
func bootstrapPolicy(ctx context.Context, cfg *config.Config, policies storage.PolicyStore) error {
	policy, err := cfg.Policy.ToPolicy(time.Now().UTC())
	if err != nil {
		return err
	}
	if err := policies.InitPolicy(ctx, policy); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			logger.S().Debug("composition policy already initialized")
			return nil
		}
		return err
	}
	logger.S().Infow("composition policy initialized",
		"constituents", len(policy.TargetFractions),
		"max_deviation", policy.MaxDeviationFraction.String(),
		"interval_days", policy.RebalanceIntervalDays)
	return nil
}

// createPriceSource builds the configured price source. The returned close
// function stops the feed; for the static source it is a no-op.
func createPriceSource(ctx context.Context, cfg *config.Config) (prices.Source, func(), error) {
	if cfg.PriceSource == config.PricesStatic {
		return prices.NewStatic(), func() {}, nil
	}

	feed, err := prices.NewFeed(ctx, cfg.PriceFeedURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect price feed: %w", err)
	}
	return feed, func() {
		if err := feed.Close(); err != nil {
			logger.S().Warnw("close price feed", "error", err)
		}
	}, nil
}

// run supervises the daemon loops until ctx is cancelled or one fails.
func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.evaluationLoop(gctx)
	})
	g.Go(func() error {
		return d.valuationLoop(gctx)
	})
	g.Go(func() error {
		return d.runHTTPServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// evaluationLoop runs the rebalance cycle immediately and then on a ticker.
func (d *daemon) evaluationLoop(ctx context.Context) error {
	d.runEvaluation(ctx)

	ticker := time.NewTicker(d.cfg.EvaluationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runEvaluation(ctx)
		}
	}
}

func (d *daemon) runEvaluation(ctx context.Context) {
	if err := d.rebalanceSvc.RunCycle(ctx, d.cfg.AutoExecute); err != nil {
		logger.S().Errorw("evaluation cycle failed", "error", err)
		return
	}
	d.mu.Lock()
	d.lastEvaluation = time.Now().UTC()
	d.evaluationRuns++
	d.mu.Unlock()
}

// valuationLoop records NAV snapshots immediately and then on a ticker.
func (d *daemon) valuationLoop(ctx context.Context) error {
	d.runValuation(ctx)

	ticker := time.NewTicker(d.cfg.ValuationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runValuation(ctx)
		}
	}
}

func (d *daemon) runValuation(ctx context.Context) {
	points, err := d.recorder.RecordOnce(ctx)
	if err != nil {
		logger.S().Errorw("valuation snapshot failed", "error", err)
		return
	}
	if len(points) > 0 {
		logger.S().Debugw("recorded valuation snapshot", "points", len(points))
	}
	d.mu.Lock()
	d.lastValuation = time.Now().UTC()
	d.valuationRuns++
	d.mu.Unlock()
}

// runHTTPServer serves health, metrics and status until ctx is cancelled.
func (d *daemon) runHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", d.handleStatus)

	srv := &http.Server{Addr: d.cfg.HTTPAddr, Handler: mux}

	serverErr := make(chan error, 1)
	go func() {
		logger.S().Infow("http server listening", "addr", d.cfg.HTTPAddr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// statusResponse is the JSON response for the /status endpoint.
type statusResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	Store          string    `json:"store"`
	PriceSource    string    `json:"price_source"`
	AutoExecute    bool      `json:"auto_execute"`
	TotalSupply    string    `json:"total_supply"`
	NAV            string    `json:"nav"`
	OpenRequests   int       `json:"open_requests"`
	LastEvaluation time.Time `json:"last_evaluation,omitempty"`
	LastValuation  time.Time `json:"last_valuation,omitempty"`
	EvaluationRuns int       `json:"evaluation_runs"`
	ValuationRuns  int       `json:"valuation_runs"`
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	holdings, err := d.ledgerSvc.GetHoldings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	priceTable, err := d.prices.Prices(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	value, err := nav.Compute(holdings, priceTable)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	open := 0
	for _, status := range []domain.RequestStatus{domain.StatusPending, domain.StatusApproved} {
		requests, err := d.rebalanceSvc.ListRequestsByStatus(r.Context(), status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		open += len(requests)
	}

	d.mu.Lock()
	resp := statusResponse{
		Status:         "running",
		Uptime:         time.Since(d.started).String(),
		Store:          d.cfg.Store,
		PriceSource:    d.cfg.PriceSource,
		AutoExecute:    d.cfg.AutoExecute,
		TotalSupply:    holdings.TotalSupply.String(),
		NAV:            value.String(),
		OpenRequests:   open,
		LastEvaluation: d.lastEvaluation,
		LastValuation:  d.lastValuation,
		EvaluationRuns: d.evaluationRuns,
		ValuationRuns:  d.valuationRuns,
	}
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
