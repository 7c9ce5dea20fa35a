package clickhouse

import (
	"context"
	"fmt"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// ValuationStore implements storage.ValuationStore using ClickHouse.
type ValuationStore struct {
	conn *Conn
}

// NewValuationStore creates a new ValuationStore.
func NewValuationStore(conn *Conn) *ValuationStore {
	return &ValuationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ValuationStore = (*ValuationStore)(nil)

// InsertBulk appends valuation points.
func (s *ValuationStore) InsertBulk(ctx context.Context, points []*domain.ValuationPoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO valuation_history (
			timestamp_ms, constituent, value, fraction, deviation, nav, total_supply
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.TimestampMs, string(p.Constituent),
			p.Value, p.Fraction, p.Deviation, p.NAV, p.TotalSupply,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves a constituent's points within [start, end] (inclusive).
func (s *ValuationStore) GetByTimeRange(ctx context.Context, c domain.Constituent, start, end int64) ([]*domain.ValuationPoint, error) {
	query := `
		SELECT timestamp_ms, constituent, value, fraction, deviation, nav, total_supply
		FROM valuation_history
		WHERE constituent = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, string(c), start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanValuationPoints(rows)
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanValuationPoints scans multiple rows into a slice.
func scanValuationPoints(rows chRows) ([]*domain.ValuationPoint, error) {
	var points []*domain.ValuationPoint

	for rows.Next() {
		var p domain.ValuationPoint
		var constituent string

		err := rows.Scan(
			&p.TimestampMs, &constituent,
			&p.Value, &p.Fraction, &p.Deviation, &p.NAV, &p.TotalSupply,
		)
		if err != nil {
			return nil, fmt.Errorf("scan valuation row: %w", err)
		}

		p.Constituent = domain.Constituent(constituent)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valuation rows: %w", err)
	}

	return points, nil
}
