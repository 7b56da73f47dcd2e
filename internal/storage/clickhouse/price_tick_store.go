package clickhouse

import (
	"context"
	"fmt"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

// PriceTickStore implements storage.PriceTickStore using ClickHouse.
// Ticks are append-only display data; MergeTree uniqueness is not
// required.
type PriceTickStore struct {
	conn *Conn
}

// NewPriceTickStore creates a new PriceTickStore.
func NewPriceTickStore(conn *Conn) *PriceTickStore {
	return &PriceTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceTickStore = (*PriceTickStore)(nil)

// Insert appends a price observation.
func (s *PriceTickStore) Insert(ctx context.Context, tick *domain.PriceTick) error {
	if tick == nil {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (observed_at_ms, price, sbtc_balance, token_balance)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	if err := batch.Append(uint64(tick.ObservedAt), tick.Price, tick.SbtcBalance, tick.TokenBalance); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetSince retrieves ticks observed at or after sinceMs, ordered ASC.
func (s *PriceTickStore) GetSince(ctx context.Context, sinceMs int64) ([]*domain.PriceTick, error) {
	query := `
		SELECT observed_at_ms, price, sbtc_balance, token_balance
		FROM price_ticks
		WHERE observed_at_ms >= ?
		ORDER BY observed_at_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(sinceMs))
	if err != nil {
		return nil, fmt.Errorf("get price ticks: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.PriceTick
	for rows.Next() {
		var (
			observedAt uint64
			tick       domain.PriceTick
		)
		if err := rows.Scan(&observedAt, &tick.Price, &tick.SbtcBalance, &tick.TokenBalance); err != nil {
			return nil, fmt.Errorf("scan price tick row: %w", err)
		}
		tick.ObservedAt = int64(observedAt)
		ticks = append(ticks, &tick)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price tick rows: %w", err)
	}

	return ticks, nil
}
