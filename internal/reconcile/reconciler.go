// Package reconcile derives canonical trade records from confirmed
// ledger transaction payloads and repairs incomplete records.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/ledger"
	"curvedex/internal/storage"
)

// Contract function names that produce trade records. Any other call
// is ignored, not an error.
const (
	FunctionBuy  = "buy-tokens"
	FunctionSell = "sell-tokens"
)

// swapResult is the tuple shape of a buy/sell call's return value.
// Pointer fields so a partially populated result degrades per field.
type swapResult struct {
	Sats      *int64 `json:"sats"`
	Tokens    *int64 `json:"tokens"`
	PoolSbtc  *int64 `json:"pool_sbtc"`
	PoolToken *int64 `json:"pool_tokens"`
}

// Reconciler turns confirmed transactions into trade records.
type Reconciler struct {
	store storage.TradeRecordStore

	// tokenAsset identifies the pool token in transfer events.
	tokenAsset string

	// unitScale converts token base units to whole tokens for the
	// execution price.
	unitScale int64

	logger *log.Logger
}

// Options configures a Reconciler.
type Options struct {
	Store      storage.TradeRecordStore
	TokenAsset string
	UnitScale  int64 // defaults to domain.TokenUnitScale
	Logger     *log.Logger
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	unitScale := opts.UnitScale
	if unitScale == 0 {
		unitScale = domain.TokenUnitScale
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		store:      opts.Store,
		tokenAsset: opts.TokenAsset,
		unitScale:  unitScale,
		logger:     logger,
	}
}

// Reconcile derives a trade record from a confirmed transaction and
// inserts it. Non-swap calls and non-success statuses return nil, nil.
// Partial extraction degrades fields to null; only store I/O failure
// is an error, and it should propagate to a caller-level retry of the
// whole pass.
//
// Reconciling an already-stored transaction repairs the row in place:
// the insert is a no-op, and the fill pass lands whatever richer data
// this payload carries without touching authoritative fields.
func (r *Reconciler) Reconcile(ctx context.Context, tx *ledger.Transaction) (*domain.TradeRecord, error) {
	record, ok := r.Derive(tx)
	if !ok {
		return nil, nil
	}

	if err := r.store.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("insert trade record %s: %w", record.TransactionID, err)
	}
	if err := r.store.FillNulls(ctx, record); err != nil {
		return nil, fmt.Errorf("repair trade record %s: %w", record.TransactionID, err)
	}

	if record.AmountConfidence == domain.ConfidenceDeclared {
		r.logger.Printf("[reconcile] %s stored with declared-amount fallback (low confidence)", record.TransactionID)
	}

	return record, nil
}

// Derive builds the trade record for a transaction without storing it.
// Returns false for anything that is not a ledger-confirmed-success
// buy/sell call.
func (r *Reconciler) Derive(tx *ledger.Transaction) (*domain.TradeRecord, bool) {
	if tx == nil || tx.Status != ledger.StatusSuccess {
		return nil, false
	}

	var direction string
	switch tx.FunctionName {
	case FunctionBuy:
		direction = domain.DirectionBuy
	case FunctionSell:
		direction = domain.DirectionSell
	default:
		return nil, false
	}

	record := &domain.TradeRecord{
		TransactionID: tx.TransactionID,
		WalletAddress: tx.Sender,
		Direction:     direction,
		Protected:     tx.Protected(),
		BlockTime:     tx.BlockTime,
		CreatedAt:     time.Now().UnixMilli(),
	}

	r.extractAmounts(tx, direction, record)

	record.ExecutionPrice = executionPrice(record.SatsTraded, record.TokensTraded, r.unitScale)

	return record, true
}

// extractAmounts fills sats/tokens/pool-after using the preference
// order: the call's own return value, then matching transfer events
// for the initiating account, then the declared input amount marked
// low-confidence.
func (r *Reconciler) extractAmounts(tx *ledger.Transaction, direction string, record *domain.TradeRecord) {
	// 1. Return value.
	if tx.Result != nil {
		var result swapResult
		if err := tx.Result.UnmarshalInto(&result); err == nil && (result.Sats != nil || result.Tokens != nil) {
			record.SatsTraded = result.Sats
			record.TokensTraded = result.Tokens
			record.PoolSbtcAfter = result.PoolSbtc
			record.PoolTokenAfter = result.PoolToken
			if result.Sats != nil && result.Tokens != nil {
				record.AmountConfidence = domain.ConfidenceResult
				return
			}
		}
	}

	// 2. Transfer events for the initiating account.
	sats, tokens := amountsFromEvents(tx, direction, r.tokenAsset)
	if record.SatsTraded == nil {
		record.SatsTraded = sats
	}
	if record.TokensTraded == nil {
		record.TokensTraded = tokens
	}
	if record.SatsTraded != nil && record.TokensTraded != nil {
		record.AmountConfidence = domain.ConfidenceEvents
		return
	}

	// 3. Declared input amount, explicitly non-authoritative. Only the
	// sent side is known; the counter-amount stays null.
	if declared, ok := declaredInput(tx); ok {
		if direction == domain.DirectionBuy && record.SatsTraded == nil {
			record.SatsTraded = &declared
		}
		if direction == domain.DirectionSell && record.TokensTraded == nil {
			record.TokensTraded = &declared
		}
	}
	record.AmountConfidence = domain.ConfidenceDeclared
}

// amountsFromEvents extracts the traded amounts from transfer events
// involving the transaction sender. Sats move in the native asset,
// tokens in the pool token asset.
func amountsFromEvents(tx *ledger.Transaction, direction, tokenAsset string) (sats, tokens *int64) {
	for i := range tx.Events {
		ev := &tx.Events[i]
		if ev.Amount <= 0 {
			continue
		}

		isToken := tokenAsset != "" && ev.Asset == tokenAsset
		isNative := ev.Asset == ""

		switch direction {
		case domain.DirectionBuy:
			// Buyer sends sats, receives tokens.
			if isNative && ev.Sender == tx.Sender && sats == nil {
				v := ev.Amount
				sats = &v
			}
			if isToken && ev.Recipient == tx.Sender && tokens == nil {
				v := ev.Amount
				tokens = &v
			}
		case domain.DirectionSell:
			// Seller sends tokens, receives sats.
			if isToken && ev.Sender == tx.Sender && tokens == nil {
				v := ev.Amount
				tokens = &v
			}
			if isNative && ev.Recipient == tx.Sender && sats == nil {
				v := ev.Amount
				sats = &v
			}
		}
	}
	return sats, tokens
}

// declaredInput reads the declared amount from the first function
// argument, accepting either a JSON number or a decimal string.
func declaredInput(tx *ledger.Transaction) (int64, bool) {
	if len(tx.FunctionArgs) == 0 {
		return 0, false
	}

	raw := tx.FunctionArgs[0].Raw

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			return v, true
		}
	}

	return 0, false
}

// executionPrice computes sats per whole token. Nil unless both
// amounts are known and tokens are positive.
func executionPrice(sats, tokens *int64, unitScale int64) *float64 {
	if sats == nil || tokens == nil || *tokens <= 0 {
		return nil
	}
	price := float64(*sats) / (float64(*tokens) / float64(unitScale))
	return &price
}
