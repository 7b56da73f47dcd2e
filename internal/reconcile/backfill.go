package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"curvedex/internal/ledger"
	"curvedex/internal/storage"
)

// Backfiller rescans records with null derived fields and recomputes
// them from the raw transaction payload. Updates are conditional
// (fill-if-null), so a concurrent fresh insert can never be clobbered.
type Backfiller struct {
	store     storage.TradeRecordStore
	client    ledger.Client
	deriver   *Reconciler
	batchSize int
	logger    *log.Logger
}

// BackfillOptions configures a Backfiller.
type BackfillOptions struct {
	Store     storage.TradeRecordStore
	Client    ledger.Client
	Deriver   *Reconciler
	BatchSize int // records per pass, default 100
	Logger    *log.Logger
}

// NewBackfiller creates a Backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Backfiller{
		store:     opts.Store,
		client:    opts.Client,
		deriver:   opts.Deriver,
		batchSize: batchSize,
		logger:    logger,
	}
}

// BackfillResult contains statistics from one backfill pass.
type BackfillResult struct {
	Scanned  int
	Updated  int
	Skipped  int
	Errors   int
	Duration time.Duration
}

// Run executes one backfill pass. Per-record fetch or derivation
// failure skips that record; only the incomplete-record scan itself is
// fatal, and the caller may retry the whole pass.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{}

	records, err := b.store.GetIncomplete(ctx, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("scan incomplete records: %w", err)
	}
	result.Scanned = len(records)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx, err := b.client.GetTransaction(ctx, record.TransactionID)
		if err != nil {
			b.logger.Printf("[backfill] fetch %s: %v", record.TransactionID, err)
			result.Errors++
			continue
		}
		if tx == nil {
			result.Skipped++
			continue
		}

		// Re-derive from the raw payload using the same rules as a
		// fresh insert. The declared-amount fallback is never treated
		// as authoritative here: derivation starts from the events.
		derived, ok := b.deriver.Derive(tx)
		if !ok {
			result.Skipped++
			continue
		}

		if err := b.store.FillNulls(ctx, derived); err != nil {
			b.logger.Printf("[backfill] update %s: %v", record.TransactionID, err)
			result.Errors++
			continue
		}
		result.Updated++
	}

	result.Duration = time.Since(start)
	return result, nil
}
