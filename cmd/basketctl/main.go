// Package main provides basketctl, the operator CLI for the basket engine:
// policy bootstrap, mint/redeem, holdings and NAV inspection, and the
// rebalance request lifecycle (evaluate, plan, approve, execute).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/config"
	"metal-basket-engine/internal/custody"
	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/ledger"
	"metal-basket-engine/internal/nav"
	"metal-basket-engine/internal/prices"
	"metal-basket-engine/internal/rebalance"
	"metal-basket-engine/internal/storage"
	chstore "metal-basket-engine/internal/storage/clickhouse"
	"metal-basket-engine/internal/storage/memory"
	pgstore "metal-basket-engine/internal/storage/postgres"
	"metal-basket-engine/internal/valuation"
)

const usageText = `basketctl - operator CLI for the metal basket engine

Usage:
  basketctl <command> [flags]

Commands:
  policy-init   Initialize the composition policy
  policy-show   Show the composition policy
  mint          Mint a basket token
  redeem        Redeem a basket token, fully or in part
  token         Show one basket token
  tokens        List an owner's basket tokens
  holdings      Show aggregate holdings and allocation drift
  nav           Compute the net asset value
  evaluate      Evaluate deviation and schedule triggers
  plan          Create a rebalance request when the basket is actionable
  approve       Approve a pending rebalance request
  execute       Execute a ready rebalance request
  requests      List rebalance requests
  operations    List a request's planned trades
  history       Show recorded valuation history

Common flags (every command):
  -postgres-dsn   PostgreSQL connection string (default $POSTGRES_DSN)
  -memory         Use seeded in-memory demo state instead of PostgreSQL

Run 'basketctl <command> -h' for command flags.
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "policy-init":
		runPolicyInit(ctx, args)
	case "policy-show":
		runPolicyShow(ctx, args)
	case "mint":
		runMint(ctx, args)
	case "redeem":
		runRedeem(ctx, args)
	case "token":
		runToken(ctx, args)
	case "tokens":
		runTokens(ctx, args)
	case "holdings":
		runHoldings(ctx, args)
	case "nav":
		runNAV(ctx, args)
	case "evaluate":
		runEvaluate(ctx, args)
	case "plan":
		runPlan(ctx, args)
	case "approve":
		runApprove(ctx, args)
	case "execute":
		runExecute(ctx, args)
	case "requests":
		runRequests(ctx, args)
	case "operations":
		runOperations(ctx, args)
	case "history":
		runHistory(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
}

// app wires the services a command works through.
type app struct {
	ledger    *ledger.Service
	rebalance *rebalance.Service
	policies  storage.PolicyStore
	prices    prices.Source
	custody   *custody.Simulated
}

// storeFlags registers the store selection flags shared by every command.
func storeFlags(fs *flag.FlagSet) (postgresDSN *string, useMemory *bool) {
	postgresDSN = fs.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory = fs.Bool("memory", false, "Use seeded in-memory demo state instead of PostgreSQL")
	return postgresDSN, useMemory
}

// newApp builds the services over the selected store. In memory mode the
// store is seeded with the default policy and one reference position unless
// seedDemo is false (policy-init brings its own policy).
func newApp(ctx context.Context, postgresDSN string, useMemory, seedDemo bool) (*app, func()) {
	sim := custody.NewSimulated()
	priceSource := prices.NewStatic()

	if useMemory {
		store := memory.NewStore()
		ledgerSvc := ledger.NewService(store, store, sim, sim)
		a := &app{
			ledger:    ledgerSvc,
			rebalance: rebalance.NewService(store, store, ledgerSvc, priceSource, sim),
			policies:  store,
			prices:    priceSource,
			custody:   sim,
		}
		if seedDemo {
			if err := a.seedDemo(ctx); err != nil {
				fatalf("seed demo state: %v", err)
			}
		}
		return a, func() {}
	}

	if postgresDSN == "" {
		fatalf("-postgres-dsn is required (or use -memory for demo state)")
	}
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		fatalf("connect to postgres: %v", err)
	}

	policyStore := pgstore.NewPolicyStore(pool)
	ledgerSvc := ledger.NewService(pgstore.NewLedgerStore(pool), policyStore, sim, sim)
	return &app{
		ledger:    ledgerSvc,
		rebalance: rebalance.NewService(pgstore.NewRebalanceStore(pool), policyStore, ledgerSvc, priceSource, sim),
		policies:  policyStore,
		prices:    priceSource,
		custody:   sim,
	}, pool.Close
}

// seedDemo initializes the default policy and mints a 10000-unit reference
// position so read commands have something to show.
func (a *app) seedDemo(ctx context.Context) error {
	if err := a.policies.InitPolicy(ctx, domain.DefaultPolicy(time.Now().UTC())); err != nil {
		return err
	}
	_, err := a.ledger.Mint(ctx, "demo", decimal.RequireFromString("10000"))
	return err
}

func runPolicyInit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("policy-init", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	gold := fs.String("gold", "0.5", "Target fraction for gold")
	silver := fs.String("silver", "0.3", "Target fraction for silver")
	platinum := fs.String("platinum", "0.2", "Target fraction for platinum")
	maxDeviation := fs.String("max-deviation", "0.05", "Deviation trigger threshold")
	intervalDays := fs.Int("interval-days", 30, "Scheduled rebalance interval in days")
	minTrade := fs.String("min-trade", "1000", "Minimum trade amount")
	approvalThreshold := fs.String("approval-threshold", "100000", "Largest trade at or above this requires approval")
	fs.Parse(args)

	pc := config.PolicyConfig{
		TargetFractions: map[string]string{
			"gold":     *gold,
			"silver":   *silver,
			"platinum": *platinum,
		},
		MaxDeviation:          *maxDeviation,
		RebalanceIntervalDays: *intervalDays,
		MinTradeAmount:        *minTrade,
		ApprovalThreshold:     *approvalThreshold,
	}
	policy, err := pc.ToPolicy(time.Now().UTC())
	if err != nil {
		fatalf("invalid policy: %v", err)
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, false)
	defer cleanup()

	if err := a.policies.InitPolicy(ctx, policy); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			fatalf("composition policy already initialized")
		}
		fatalf("initialize policy: %v", err)
	}

	fmt.Println("Composition policy initialized")
	printPolicy(policy)
}

func runPolicyShow(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("policy-show", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	policy, err := a.policies.GetPolicy(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fatalf("composition policy not initialized (run 'basketctl policy-init')")
		}
		fatalf("get policy: %v", err)
	}
	printPolicy(policy)
}

func runMint(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	owner := fs.String("owner", "", "Owner account (required)")
	amount := fs.String("amount", "", "Basket units to mint (required)")
	fs.Parse(args)

	if *owner == "" || *amount == "" {
		fatalf("-owner and -amount are required")
	}
	value := parseDecimal("amount", *amount)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	token, err := a.ledger.Mint(ctx, *owner, value)
	if err != nil {
		fatalf("mint: %v", err)
	}

	fmt.Printf("Minted %s for %s\n", token.ID, token.Owner)
	printToken(token)
}

func runRedeem(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	tokenID := fs.String("token", "", "Token ID (required)")
	owner := fs.String("owner", "", "Owner account (required)")
	amount := fs.String("amount", "", "Basket units to redeem (default: full token value)")
	fs.Parse(args)

	if *tokenID == "" || *owner == "" {
		fatalf("-token and -owner are required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	value := decimal.Zero
	if *amount != "" {
		value = parseDecimal("amount", *amount)
	} else {
		token, err := a.ledger.GetToken(ctx, *tokenID)
		if err != nil {
			fatalf("token %s: %v", *tokenID, err)
		}
		value = token.TotalValue
	}

	result, err := a.ledger.Redeem(ctx, *tokenID, *owner, value)
	if err != nil {
		fatalf("redeem: %v", err)
	}

	// Redemption releases constituents from custody; the payout credit is
	// the operator's follow-up step.
	if err := a.custody.Credit(ctx, result.Owner, result.Amount); err != nil {
		fatalf("credit settlement payout: %v", err)
	}

	fmt.Printf("Redeemed %s units of %s\n", result.Amount, result.TokenID)
	t := newTable()
	t.AppendHeader(table.Row{"CONSTITUENT", "RELEASED"})
	for _, c := range domain.SortedConstituents(result.ConstituentAmounts) {
		t.AppendRow(table.Row{c.String(), result.ConstituentAmounts[c].String()})
	}
	t.SetColumnConfigs(rightAlign(2))
	t.Render()
	if result.FullyRedeemed {
		fmt.Println("Token fully redeemed and deleted")
	} else {
		fmt.Printf("Remaining token value: %s\n", result.RemainingValue)
	}
}

func runToken(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	tokenID := fs.String("id", "", "Token ID (required)")
	fs.Parse(args)

	if *tokenID == "" {
		fatalf("-id is required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	token, err := a.ledger.GetToken(ctx, *tokenID)
	if err != nil {
		fatalf("token %s: %v", *tokenID, err)
	}
	printToken(token)
}

func runTokens(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("tokens", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	owner := fs.String("owner", "", "Owner account (required)")
	fs.Parse(args)

	if *owner == "" {
		fatalf("-owner is required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	tokens, err := a.ledger.ListTokensByOwner(ctx, *owner)
	if err != nil {
		fatalf("list tokens: %v", err)
	}
	if len(tokens) == 0 {
		fmt.Printf("No tokens held by %s\n", *owner)
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "VALUE", "GOLD", "SILVER", "PLATINUM", "CREATED"})
	for _, token := range tokens {
		t.AppendRow(table.Row{
			token.ID,
			token.TotalValue.String(),
			token.ConstituentAmounts[domain.ConstituentGold].String(),
			token.ConstituentAmounts[domain.ConstituentSilver].String(),
			token.ConstituentAmounts[domain.ConstituentPlatinum].String(),
			token.CreatedAt.Format(time.RFC3339),
		})
	}
	t.SetColumnConfigs(rightAlign(2, 3, 4, 5))
	t.Render()
}

func runHoldings(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("holdings", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	holdings, err := a.ledger.GetHoldings(ctx)
	if err != nil {
		fatalf("get holdings: %v", err)
	}
	policy, err := a.policies.GetPolicy(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		fatalf("get policy: %v", err)
	}

	fmt.Printf("Total supply:    %s\n", holdings.TotalSupply)
	fmt.Printf("Version:         %d\n", holdings.Version)
	fmt.Printf("Last rebalance:  %s\n", formatTime(holdings.LastRebalanceAt))
	fmt.Printf("Needs rebalance: %t\n", holdings.RebalanceNeeded)

	if policy == nil {
		return
	}
	deviations, _ := policy.Deviations(holdings)
	sum := holdings.ConstituentSum()

	t := newTable()
	t.AppendHeader(table.Row{"CONSTITUENT", "AMOUNT", "FRACTION", "TARGET", "DEVIATION"})
	for _, c := range policy.Constituents() {
		amount := holdings.ConstituentTotals[c]
		fraction := decimal.Zero
		if sum.Sign() != 0 {
			fraction = amount.Div(sum)
		}
		t.AppendRow(table.Row{
			c.String(),
			amount.String(),
			formatPercent(fraction),
			formatPercent(policy.TargetFractions[c]),
			formatPercent(deviations[c]),
		})
	}
	t.SetColumnConfigs(rightAlign(2, 3, 4, 5))
	t.Render()
}

func runNAV(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("nav", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	holdings, err := a.ledger.GetHoldings(ctx)
	if err != nil {
		fatalf("get holdings: %v", err)
	}
	priceTable, err := a.prices.Prices(ctx)
	if err != nil {
		fatalf("get prices: %v", err)
	}
	values, err := nav.ConstituentValues(holdings, priceTable)
	if err != nil {
		fatalf("constituent values: %v", err)
	}
	value, err := nav.Compute(holdings, priceTable)
	if err != nil {
		fatalf("compute nav: %v", err)
	}

	t := newTable()
	t.AppendHeader(table.Row{"CONSTITUENT", "AMOUNT", "PRICE", "VALUE"})
	for _, c := range domain.SortedConstituents(values) {
		t.AppendRow(table.Row{
			c.String(),
			holdings.ConstituentTotals[c].String(),
			priceTable[c].String(),
			values[c].String(),
		})
	}
	t.SetColumnConfigs(rightAlign(2, 3, 4))
	t.Render()
	fmt.Printf("Total supply: %s\n", holdings.TotalSupply)
	fmt.Printf("NAV:          %s\n", value)
}

func runEvaluate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	eval, err := a.rebalance.Evaluate(ctx)
	if err != nil {
		fatalf("evaluate: %v", err)
	}

	if len(eval.Deviations) > 0 {
		t := newTable()
		t.AppendHeader(table.Row{"CONSTITUENT", "DEVIATION"})
		for _, c := range domain.SortedConstituents(eval.Deviations) {
			t.AppendRow(table.Row{c.String(), formatPercent(eval.Deviations[c])})
		}
		t.SetColumnConfigs(rightAlign(2))
		t.Render()
	}
	fmt.Printf("Max abs deviation: %s\n", formatPercent(eval.MaxAbsDeviation))
	fmt.Printf("Schedule overdue:  %t\n", eval.ScheduleOverdue)
	if eval.Needed {
		fmt.Printf("Rebalance needed:  true (%s)\n", eval.TriggerType)
		fmt.Printf("Reason:            %s\n", eval.Reason)
	} else {
		fmt.Println("Rebalance needed:  false")
	}
}

func runPlan(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	req, ops, err := a.rebalance.CreateRequest(ctx)
	if err != nil {
		fatalf("create request: %v", err)
	}
	if req == nil {
		fmt.Println("No rebalancing needed: deviation below threshold")
		return
	}

	fmt.Printf("Created rebalance request %s\n", req.ID)
	printRequest(req)
	printOperations(ops)
	if req.ApprovalRequired {
		fmt.Printf("Approval required before execution: basketctl approve -request %s -by <approver>\n", req.ID)
	}
}

func runApprove(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	requestID := fs.String("request", "", "Request ID (required)")
	approver := fs.String("by", "", "Approver account (required)")
	fs.Parse(args)

	if *requestID == "" || *approver == "" {
		fatalf("-request and -by are required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	if err := a.rebalance.Approve(ctx, *requestID, *approver); err != nil {
		fatalf("approve: %v", err)
	}
	fmt.Printf("Request %s approved by %s\n", *requestID, *approver)
}

func runExecute(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	requestID := fs.String("request", "", "Request ID (required)")
	fs.Parse(args)

	if *requestID == "" {
		fatalf("-request is required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	result, err := a.rebalance.Execute(ctx, *requestID)
	if err != nil {
		if result != nil {
			fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
			printExecutionResult(result)
			os.Exit(1)
		}
		fatalf("execute: %v", err)
	}
	printExecutionResult(result)
}

func runRequests(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	status := fs.String("status", "", "Filter by status (PENDING | APPROVED | EXECUTED | FAILED)")
	fs.Parse(args)

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	var (
		requests []*domain.RebalanceRequest
		err      error
	)
	if *status != "" {
		s := domain.RequestStatus(*status)
		if !s.IsValid() {
			fatalf("unknown status %q", *status)
		}
		requests, err = a.rebalance.ListRequestsByStatus(ctx, s)
	} else {
		requests, err = a.rebalance.ListRequests(ctx)
	}
	if err != nil {
		fatalf("list requests: %v", err)
	}
	if len(requests) == 0 {
		fmt.Println("No rebalance requests")
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "TRIGGER", "STATUS", "APPROVAL", "CREATED", "EXECUTED"})
	for _, req := range requests {
		approval := "-"
		if req.ApprovalRequired {
			approval = "required"
			if req.ApprovedBy != "" {
				approval = "by " + req.ApprovedBy
			}
		}
		t.AppendRow(table.Row{
			req.ID,
			req.TriggerType.String(),
			req.Status.String(),
			approval,
			req.CreatedAt.Format(time.RFC3339),
			formatTime(req.ExecutedAt),
		})
	}
	t.Render()
}

func runOperations(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("operations", flag.ExitOnError)
	postgresDSN, useMemory := storeFlags(fs)
	requestID := fs.String("request", "", "Request ID (required)")
	fs.Parse(args)

	if *requestID == "" {
		fatalf("-request is required")
	}

	a, cleanup := newApp(ctx, *postgresDSN, *useMemory, true)
	defer cleanup()

	req, err := a.rebalance.GetRequest(ctx, *requestID)
	if err != nil {
		fatalf("request %s: %v", *requestID, err)
	}
	ops, err := a.rebalance.ListOperations(ctx, *requestID)
	if err != nil {
		fatalf("list operations: %v", err)
	}

	printRequest(req)
	if len(ops) == 0 {
		fmt.Println("No operations (all trades below the minimum trade amount)")
		return
	}
	printOperations(ops)
}

// runHistory reads valuation history from ClickHouse, or records and shows
// one snapshot over the seeded demo state in memory mode.
func runHistory(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	clickhouseDSN := fs.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := fs.Bool("memory", false, "Use seeded in-memory demo state instead of ClickHouse")
	constituent := fs.String("constituent", "", "Limit to one constituent (gold | silver | platinum)")
	hours := fs.Int("hours", 24, "How far back to read")
	asCSV := fs.Bool("csv", false, "Write CSV to stdout instead of a table")
	fs.Parse(args)

	var query func(ctx context.Context, c domain.Constituent, start, end int64) ([]*domain.ValuationPoint, error)
	if *useMemory {
		a, cleanup := newApp(ctx, "", true, true)
		defer cleanup()
		recorder := valuation.NewRecorder(a.ledger, a.policies, a.prices, memory.NewValuationStore())
		if _, err := recorder.RecordOnce(ctx); err != nil {
			fatalf("record demo snapshot: %v", err)
		}
		query = recorder.History
	} else {
		if *clickhouseDSN == "" {
			fatalf("-clickhouse-dsn is required (or use -memory for demo state)")
		}
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		query = chstore.NewValuationStore(conn).GetByTimeRange
	}

	constituents := []domain.Constituent{domain.ConstituentGold, domain.ConstituentSilver, domain.ConstituentPlatinum}
	if *constituent != "" {
		c := domain.Constituent(*constituent)
		if !c.IsValid() {
			fatalf("unknown constituent %q", *constituent)
		}
		constituents = []domain.Constituent{c}
	}

	end := time.Now().UTC().UnixMilli()
	start := end - int64(*hours)*time.Hour.Milliseconds()

	var points []*domain.ValuationPoint
	for _, c := range constituents {
		rows, err := query(ctx, c, start, end)
		if err != nil {
			fatalf("read history for %s: %v", c, err)
		}
		points = append(points, rows...)
	}
	if len(points) == 0 {
		fmt.Println("No valuation points in range")
		return
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].TimestampMs != points[j].TimestampMs {
			return points[i].TimestampMs < points[j].TimestampMs
		}
		return points[i].Constituent < points[j].Constituent
	})

	if *asCSV {
		fmt.Print(renderHistoryCSV(points))
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"TIME", "CONSTITUENT", "VALUE", "FRACTION", "DEVIATION", "NAV", "SUPPLY"})
	for _, p := range points {
		t.AppendRow(table.Row{
			time.UnixMilli(p.TimestampMs).UTC().Format(time.RFC3339),
			p.Constituent.String(),
			fmt.Sprintf("%.4f", p.Value),
			fmt.Sprintf("%.2f%%", p.Fraction*100),
			fmt.Sprintf("%.2f%%", p.Deviation*100),
			fmt.Sprintf("%.4f", p.NAV),
			fmt.Sprintf("%.4f", p.TotalSupply),
		})
	}
	t.SetColumnConfigs(rightAlign(3, 4, 5, 6, 7))
	t.Render()
}

// renderHistoryCSV renders valuation points as CSV.
func renderHistoryCSV(points []*domain.ValuationPoint) string {
	var sb strings.Builder
	sb.WriteString("timestamp_ms,constituent,value,fraction,deviation,nav,total_supply\n")
	for _, p := range points {
		sb.WriteString(fmt.Sprintf("%d,%s,%.6f,%.6f,%.6f,%.6f,%.6f\n",
			p.TimestampMs,
			p.Constituent,
			p.Value,
			p.Fraction,
			p.Deviation,
			p.NAV,
			p.TotalSupply,
		))
	}
	return sb.String()
}

func printPolicy(p *domain.CompositionPolicy) {
	t := newTable()
	t.AppendHeader(table.Row{"CONSTITUENT", "TARGET"})
	for _, c := range p.Constituents() {
		t.AppendRow(table.Row{c.String(), formatPercent(p.TargetFractions[c])})
	}
	t.SetColumnConfigs(rightAlign(2))
	t.Render()
	fmt.Printf("Max deviation:      %s\n", formatPercent(p.MaxDeviationFraction))
	fmt.Printf("Interval:           %d days\n", p.RebalanceIntervalDays)
	fmt.Printf("Min trade:          %s\n", p.MinTradeAmount)
	fmt.Printf("Approval threshold: %s\n", p.ApprovalThreshold)
}

func printToken(token *domain.BasketToken) {
	fmt.Printf("ID:      %s\n", token.ID)
	fmt.Printf("Owner:   %s\n", token.Owner)
	fmt.Printf("Value:   %s\n", token.TotalValue)
	fmt.Printf("Created: %s\n", token.CreatedAt.Format(time.RFC3339))
	t := newTable()
	t.AppendHeader(table.Row{"CONSTITUENT", "AMOUNT"})
	for _, c := range domain.SortedConstituents(token.ConstituentAmounts) {
		t.AppendRow(table.Row{c.String(), token.ConstituentAmounts[c].String()})
	}
	t.SetColumnConfigs(rightAlign(2))
	t.Render()
}

func printRequest(req *domain.RebalanceRequest) {
	fmt.Printf("Request:  %s\n", req.ID)
	fmt.Printf("Trigger:  %s (%s)\n", req.TriggerType, req.TriggerReason)
	fmt.Printf("Status:   %s\n", req.Status)
	fmt.Printf("Approval: %t\n", req.ApprovalRequired)
	if req.ApprovedBy != "" {
		fmt.Printf("Approved: %s at %s\n", req.ApprovedBy, formatTime(req.ApprovedAt))
	}
	if req.FailureReason != "" {
		fmt.Printf("Failure:  %s\n", req.FailureReason)
	}
}

func printOperations(ops []*domain.RebalanceOperation) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "CONSTITUENT", "DIRECTION", "AMOUNT", "PRICE", "EST. COST"})
	for _, op := range ops {
		t.AppendRow(table.Row{
			op.ID,
			op.Constituent.String(),
			op.Direction.String(),
			op.Amount.String(),
			op.PriceAtPlan.String(),
			op.EstimatedCost.String(),
		})
	}
	t.SetColumnConfigs(rightAlign(4, 5, 6))
	t.Render()
}

func printExecutionResult(result *rebalance.ExecutionResult) {
	fmt.Printf("Request: %s\n", result.RequestID)
	fmt.Printf("Status:  %s\n", result.Status)
	if len(result.SucceededOps) > 0 {
		fmt.Printf("Executed trades: %d\n", len(result.SucceededOps))
	}
	for _, id := range result.FailedOps {
		fmt.Printf("Failed:  %s\n", id)
	}
	for _, id := range result.SkippedOps {
		fmt.Printf("Skipped: %s\n", id)
	}
	if !result.ExecutedAt.IsZero() {
		fmt.Printf("Executed at: %s\n", result.ExecutedAt.Format(time.RFC3339))
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func rightAlign(columns ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, n := range columns {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	return configs
}

func parseDecimal(name, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		fatalf("invalid -%s %q: %v", name, s, err)
	}
	return d
}

func formatPercent(d decimal.Decimal) string {
	return fmt.Sprintf("%.2f%%", d.InexactFloat64()*100)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
