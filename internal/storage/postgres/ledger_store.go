package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const ensureHoldingsSQL = `
	INSERT INTO basket_holdings (
		holdings_key, total_supply, constituent_totals, rebalance_needed, last_rebalance_at, version
	) VALUES ($1, 0, '{}', FALSE, $2, 0)
	ON CONFLICT (holdings_key) DO NOTHING
`

const updateHoldingsSQL = `
	UPDATE basket_holdings
	SET total_supply = $1,
	    constituent_totals = $2,
	    rebalance_needed = $3,
	    last_rebalance_at = $4,
	    version = $5
	WHERE holdings_key = $6 AND version = $7
`

// GetToken retrieves a basket token by ID. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetToken(ctx context.Context, tokenID string) (*domain.BasketToken, error) {
	query := `
		SELECT token_id, owner, total_value, constituent_amounts, created_at, last_rebalanced_at
		FROM basket_tokens
		WHERE token_id = $1
	`

	row := s.pool.QueryRow(ctx, query, tokenID)
	t, err := scanBasketToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get basket token: %w", err)
	}
	return t, nil
}

// ListTokensByOwner retrieves all tokens held by owner, ordered by created_at ASC.
func (s *LedgerStore) ListTokensByOwner(ctx context.Context, owner string) ([]*domain.BasketToken, error) {
	query := `
		SELECT token_id, owner, total_value, constituent_amounts, created_at, last_rebalanced_at
		FROM basket_tokens
		WHERE owner = $1
		ORDER BY created_at ASC, token_id ASC
	`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list basket tokens by owner: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.BasketToken
	for rows.Next() {
		t, err := scanBasketToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan basket token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate basket token rows: %w", err)
	}
	return tokens, nil
}

// GetHoldings retrieves the aggregate holdings record, initializing the zero
// record on first access.
func (s *LedgerStore) GetHoldings(ctx context.Context) (*domain.AggregateHoldings, error) {
	h, err := s.readHoldings(ctx)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// First access: persist the zero record, tolerating a concurrent
	// initializer, then re-read.
	if _, err := s.pool.Exec(ctx, ensureHoldingsSQL, holdingsKey, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("init holdings: %w", err)
	}
	return s.readHoldings(ctx)
}

// ApplyMint atomically inserts the token and replaces holdings under the
// optimistic version check.
func (s *LedgerStore) ApplyMint(ctx context.Context, token *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if token == nil || token.ID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureHoldingsTx(ctx, tx); err != nil {
		return err
	}
	if err := updateHoldingsTx(ctx, tx, holdings, expectedVersion); err != nil {
		return err
	}

	query := `
		INSERT INTO basket_tokens (
			token_id, owner, total_value, constituent_amounts, created_at, last_rebalanced_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query,
		token.ID, token.Owner, token.TotalValue, token.ConstituentAmounts,
		token.CreatedAt, nullableTime(token.LastRebalancedAt),
	); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert basket token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ApplyRedemption atomically updates or deletes the token and replaces
// holdings under the optimistic version check. A nil remaining deletes the
// token.
func (s *LedgerStore) ApplyRedemption(ctx context.Context, tokenID string, remaining *domain.BasketToken, holdings *domain.AggregateHoldings, expectedVersion int64) error {
	if tokenID == "" || holdings == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureHoldingsTx(ctx, tx); err != nil {
		return err
	}
	if err := updateHoldingsTx(ctx, tx, holdings, expectedVersion); err != nil {
		return err
	}

	var ct pgconn.CommandTag
	if remaining == nil {
		ct, err = tx.Exec(ctx, `DELETE FROM basket_tokens WHERE token_id = $1`, tokenID)
	} else {
		ct, err = tx.Exec(ctx, `
			UPDATE basket_tokens
			SET total_value = $2, constituent_amounts = $3
			WHERE token_id = $1
		`, tokenID, remaining.TotalValue, remaining.ConstituentAmounts)
	}
	if err != nil {
		return fmt.Errorf("apply token redemption: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *LedgerStore) readHoldings(ctx context.Context) (*domain.AggregateHoldings, error) {
	query := `
		SELECT total_supply, constituent_totals, rebalance_needed, last_rebalance_at, version
		FROM basket_holdings
		WHERE holdings_key = $1
	`

	var h domain.AggregateHoldings
	err := s.pool.QueryRow(ctx, query, holdingsKey).Scan(
		&h.TotalSupply, &h.ConstituentTotals, &h.RebalanceNeeded, &h.LastRebalanceAt, &h.Version,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	return &h, nil
}

// ensureHoldingsTx inserts the zero holdings record if none exists, so a
// missing row and a version-0 row behave identically.
func ensureHoldingsTx(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, ensureHoldingsSQL, holdingsKey, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure holdings row: %w", err)
	}
	return nil
}

// updateHoldingsTx replaces the holdings row if its version still equals
// expectedVersion, storing expectedVersion+1.
func updateHoldingsTx(ctx context.Context, tx pgx.Tx, h *domain.AggregateHoldings, expectedVersion int64) error {
	ct, err := tx.Exec(ctx, updateHoldingsSQL,
		h.TotalSupply, h.ConstituentTotals, h.RebalanceNeeded, h.LastRebalanceAt,
		expectedVersion+1, holdingsKey, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update holdings: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// scanBasketToken scans a single row into a BasketToken.
func scanBasketToken(row pgx.Row) (*domain.BasketToken, error) {
	var t domain.BasketToken
	var lastRebalanced *time.Time

	err := row.Scan(&t.ID, &t.Owner, &t.TotalValue, &t.ConstituentAmounts, &t.CreatedAt, &lastRebalanced)
	if err != nil {
		return nil, err
	}
	if lastRebalanced != nil {
		t.LastRebalancedAt = *lastRebalanced
	}
	return &t, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
