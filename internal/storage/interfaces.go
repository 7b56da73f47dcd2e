package storage

import (
	"context"

	"curvedex/internal/domain"
)

// TradeRecordStore provides access to the canonical trade ledger.
// The table is append-only: rows are keyed by transaction id, and the
// only permitted mutation is filling previously-null derived fields.
type TradeRecordStore interface {
	// Insert adds a trade record. Inserting an existing transaction id
	// is a silent idempotent no-op; concurrent reconcilers may insert
	// the same transaction.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetByTransactionID retrieves a record. Returns ErrNotFound if it
	// does not exist.
	GetByTransactionID(ctx context.Context, txID string) (*domain.TradeRecord, error)

	// GetByWallet retrieves records for a wallet with block time >=
	// since (Unix seconds; 0 means all), ordered by block time ASC.
	GetByWallet(ctx context.Context, address string, since int64) ([]*domain.TradeRecord, error)

	// GetSince retrieves all records with block time >= since, ordered
	// by block time ASC.
	GetSince(ctx context.Context, since int64) ([]*domain.TradeRecord, error)

	// GetIncomplete retrieves up to limit records with null derived
	// fields, oldest first. These are the backfill candidates.
	GetIncomplete(ctx context.Context, limit int) ([]*domain.TradeRecord, error)

	// FillNulls updates the record for t.TransactionID, setting each
	// derived field only where the stored value is currently null.
	// Exception: declared-fallback amounts are replaced when t carries
	// result- or events-derived amounts, since the declared figure is
	// non-authoritative. Authoritative fields are never overwritten.
	// Returns ErrNotFound if the record does not exist.
	FillNulls(ctx context.Context, t *domain.TradeRecord) error
}

// PriceTickStore provides access to the display-only price history.
type PriceTickStore interface {
	// Insert appends a price observation.
	Insert(ctx context.Context, tick *domain.PriceTick) error

	// GetSince retrieves ticks observed at or after sinceMs (Unix
	// milliseconds), ordered by observation time ASC.
	GetSince(ctx context.Context, sinceMs int64) ([]*domain.PriceTick, error)
}
