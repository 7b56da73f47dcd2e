package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

// TradeRecordStore is an in-memory implementation of
// storage.TradeRecordStore.
type TradeRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by transaction_id
}

// NewTradeRecordStore creates a new in-memory trade record store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

// Insert adds a trade record. Inserting an existing transaction id is
// a silent no-op.
func (s *TradeRecordStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TransactionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TransactionID]; exists {
		return nil
	}

	cp := cloneRecord(t)
	if cp.CreatedAt == 0 {
		cp.CreatedAt = time.Now().UnixMilli()
	}
	s.data[t.TransactionID] = cp
	return nil
}

// GetByTransactionID retrieves a record by transaction id.
func (s *TradeRecordStore) GetByTransactionID(_ context.Context, txID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[txID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(t), nil
}

// GetByWallet retrieves records for a wallet since a block time.
func (s *TradeRecordStore) GetByWallet(_ context.Context, address string, since int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TradeRecord
	for _, t := range s.data {
		if t.WalletAddress == address && t.BlockTime >= since {
			out = append(out, cloneRecord(t))
		}
	}
	sortRecords(out)
	return out, nil
}

// GetSince retrieves all records since a block time.
func (s *TradeRecordStore) GetSince(_ context.Context, since int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TradeRecord
	for _, t := range s.data {
		if t.BlockTime >= since {
			out = append(out, cloneRecord(t))
		}
	}
	sortRecords(out)
	return out, nil
}

// GetIncomplete retrieves up to limit records with null derived
// fields, oldest first.
func (s *TradeRecordStore) GetIncomplete(_ context.Context, limit int) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TradeRecord
	for _, t := range s.data {
		if !t.Complete() {
			out = append(out, cloneRecord(t))
		}
	}
	sortRecords(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FillNulls sets derived fields only where currently null, with one
// exception: when the stored row carries declared-fallback amounts and
// the incoming record was derived from the result or events, the
// re-derived amounts replace the declared ones. A declared figure is
// never promoted to authoritative by relabeling alone.
func (s *TradeRecordStore) FillNulls(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TransactionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[t.TransactionID]
	if !ok {
		return storage.ErrNotFound
	}

	upgrade := existing.AmountConfidence == domain.ConfidenceDeclared &&
		(t.AmountConfidence == domain.ConfidenceResult || t.AmountConfidence == domain.ConfidenceEvents)

	if t.SatsTraded != nil && (existing.SatsTraded == nil || upgrade) {
		v := *t.SatsTraded
		existing.SatsTraded = &v
	}
	if t.TokensTraded != nil && (existing.TokensTraded == nil || upgrade) {
		v := *t.TokensTraded
		existing.TokensTraded = &v
	}
	if t.ExecutionPrice != nil && (existing.ExecutionPrice == nil || upgrade) {
		v := *t.ExecutionPrice
		existing.ExecutionPrice = &v
	}
	if existing.PoolSbtcAfter == nil && t.PoolSbtcAfter != nil {
		v := *t.PoolSbtcAfter
		existing.PoolSbtcAfter = &v
	}
	if existing.PoolTokenAfter == nil && t.PoolTokenAfter != nil {
		v := *t.PoolTokenAfter
		existing.PoolTokenAfter = &v
	}
	if upgrade {
		existing.AmountConfidence = t.AmountConfidence
	}

	return nil
}

// cloneRecord deep-copies a record, including pointer fields.
func cloneRecord(t *domain.TradeRecord) *domain.TradeRecord {
	cp := *t
	if t.SatsTraded != nil {
		v := *t.SatsTraded
		cp.SatsTraded = &v
	}
	if t.TokensTraded != nil {
		v := *t.TokensTraded
		cp.TokensTraded = &v
	}
	if t.ExecutionPrice != nil {
		v := *t.ExecutionPrice
		cp.ExecutionPrice = &v
	}
	if t.PoolSbtcAfter != nil {
		v := *t.PoolSbtcAfter
		cp.PoolSbtcAfter = &v
	}
	if t.PoolTokenAfter != nil {
		v := *t.PoolTokenAfter
		cp.PoolTokenAfter = &v
	}
	return &cp
}

// sortRecords orders by block time, then transaction id for stability.
func sortRecords(records []*domain.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockTime != records[j].BlockTime {
			return records[i].BlockTime < records[j].BlockTime
		}
		return records[i].TransactionID < records[j].TransactionID
	})
}
