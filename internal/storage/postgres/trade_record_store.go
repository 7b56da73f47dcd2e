package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using
// PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const tradeRecordColumns = `
	transaction_id, wallet_address, direction, sats_traded, tokens_traded,
	execution_price, pool_sbtc_after, pool_token_after, amount_confidence,
	protected, block_time, created_at
`

// Insert adds a trade record. An existing transaction id is a silent
// idempotent no-op, so concurrent reconcilers can insert the same
// transaction safely.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TransactionID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO trade_records (
			transaction_id, wallet_address, direction, sats_traded, tokens_traded,
			execution_price, pool_sbtc_after, pool_token_after, amount_confidence,
			protected, block_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		t.TransactionID,
		t.WalletAddress,
		t.Direction,
		t.SatsTraded,
		t.TokensTraded,
		t.ExecutionPrice,
		t.PoolSbtcAfter,
		t.PoolTokenAfter,
		t.AmountConfidence,
		t.Protected,
		t.BlockTime,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// GetByTransactionID retrieves a record. Returns ErrNotFound if it
// does not exist.
func (s *TradeRecordStore) GetByTransactionID(ctx context.Context, txID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordColumns + ` FROM trade_records WHERE transaction_id = $1`

	row := s.pool.QueryRow(ctx, query, txID)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record: %w", err)
	}
	return t, nil
}

// GetByWallet retrieves records for a wallet with block_time >= since,
// ordered by block time ASC.
func (s *TradeRecordStore) GetByWallet(ctx context.Context, address string, since int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE wallet_address = $1 AND block_time >= $2
		ORDER BY block_time ASC, transaction_id ASC
	`

	rows, err := s.pool.Query(ctx, query, address, since)
	if err != nil {
		return nil, fmt.Errorf("get trade records by wallet: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetSince retrieves all records with block_time >= since, ordered by
// block time ASC.
func (s *TradeRecordStore) GetSince(ctx context.Context, since int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE block_time >= $1
		ORDER BY block_time ASC, transaction_id ASC
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("get trade records since: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetIncomplete retrieves up to limit records with null derived
// fields, oldest first.
func (s *TradeRecordStore) GetIncomplete(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE sats_traded IS NULL
		   OR tokens_traded IS NULL
		   OR execution_price IS NULL
		   OR pool_sbtc_after IS NULL
		   OR pool_token_after IS NULL
		ORDER BY block_time ASC, transaction_id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get incomplete trade records: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// FillNulls sets each derived field only where the stored value is
// currently null, with one exception: when the stored row carries
// declared-fallback amounts and the incoming record was derived from
// the result or events, the re-derived amounts replace the declared
// ones. A declared figure is never promoted to authoritative by
// relabeling alone. Authoritative fields are never overwritten, so the
// backfill pass cannot clobber newer data.
func (s *TradeRecordStore) FillNulls(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TransactionID == "" {
		return storage.ErrInvalidInput
	}

	// Every CASE reads the row's pre-update amount_confidence.
	query := `
		UPDATE trade_records SET
			sats_traded = CASE
				WHEN amount_confidence = 'declared' AND $7 IN ('result', 'events')
				THEN COALESCE($2, sats_traded) ELSE COALESCE(sats_traded, $2)
			END,
			tokens_traded = CASE
				WHEN amount_confidence = 'declared' AND $7 IN ('result', 'events')
				THEN COALESCE($3, tokens_traded) ELSE COALESCE(tokens_traded, $3)
			END,
			execution_price = CASE
				WHEN amount_confidence = 'declared' AND $7 IN ('result', 'events')
				THEN COALESCE($4, execution_price) ELSE COALESCE(execution_price, $4)
			END,
			pool_sbtc_after  = COALESCE(pool_sbtc_after, $5),
			pool_token_after = COALESCE(pool_token_after, $6),
			amount_confidence = CASE
				WHEN amount_confidence = 'declared' AND $7 IN ('result', 'events')
				THEN $7 ELSE amount_confidence
			END
		WHERE transaction_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		t.TransactionID,
		t.SatsTraded,
		t.TokensTraded,
		t.ExecutionPrice,
		t.PoolSbtcAfter,
		t.PoolTokenAfter,
		t.AmountConfidence,
	)
	if err != nil {
		return fmt.Errorf("fill trade record nulls: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanTradeRecord scans a single row.
func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	err := row.Scan(
		&t.TransactionID,
		&t.WalletAddress,
		&t.Direction,
		&t.SatsTraded,
		&t.TokensTraded,
		&t.ExecutionPrice,
		&t.PoolSbtcAfter,
		&t.PoolTokenAfter,
		&t.AmountConfidence,
		&t.Protected,
		&t.BlockTime,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// scanTradeRecords scans multiple rows into a slice.
func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var records []*domain.TradeRecord

	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		records = append(records, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}

	return records, nil
}
