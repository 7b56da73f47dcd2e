// Package aggregate computes derived per-account views over the trade
// ledger: positions, realized P&L, and leaderboards. Nothing here is
// source of truth; everything is recomputed from trade records.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

// Engine computes aggregates from the trade record store.
type Engine struct {
	store     storage.TradeRecordStore
	unitScale int64
}

// New creates an aggregation engine.
func New(store storage.TradeRecordStore) *Engine {
	return &Engine{
		store:     store,
		unitScale: domain.TokenUnitScale,
	}
}

// ComputePosition builds the position for one wallet over a window.
// windowDays 0 means the full history. Records with null amounts
// contribute only the fields they carry.
func (e *Engine) ComputePosition(ctx context.Context, wallet string, windowDays int) (*domain.AccountPosition, error) {
	records, err := e.store.GetByWallet(ctx, wallet, windowSince(time.Now(), windowDays))
	if err != nil {
		return nil, fmt.Errorf("load trades for %s: %w", wallet, err)
	}

	pos := &domain.AccountPosition{WalletAddress: wallet}
	for _, r := range records {
		accumulate(pos, r)
	}
	finalize(pos, e.unitScale)
	return pos, nil
}

// DerivedTokenBalance is the holding implied by the full trade
// history: tokens bought minus tokens sold. Distinct from the
// ledger-reported balance; see ResolveBalance.
func (e *Engine) DerivedTokenBalance(ctx context.Context, wallet string) (int64, error) {
	pos, err := e.ComputePosition(ctx, wallet, 0)
	if err != nil {
		return 0, err
	}
	return pos.CumulativeTokens, nil
}

// ResolveBalance picks between the trade-derived holding and the
// ledger-reported one. The on-chain value always wins when both
// exist; the derived value is only a fallback for accounts the
// ledger read could not cover.
func ResolveBalance(derived int64, reported *int64) int64 {
	if reported != nil {
		return *reported
	}
	return derived
}

// accumulate folds one trade record into a position. Each field is
// taken only when the record carries it, so low-confidence records
// with a missing counter-amount still count on the side they know.
func accumulate(pos *domain.AccountPosition, r *domain.TradeRecord) {
	switch r.Direction {
	case domain.DirectionBuy:
		if r.TokensTraded != nil {
			pos.TotalBought += abs(*r.TokensTraded)
		}
		if r.SatsTraded != nil {
			pos.TotalSpent += abs(*r.SatsTraded)
		}
	case domain.DirectionSell:
		if r.TokensTraded != nil {
			pos.TotalSold += abs(*r.TokensTraded)
		}
		if r.SatsTraded != nil {
			pos.TotalReceived += abs(*r.SatsTraded)
		}
	default:
		return
	}

	pos.TradeCount++
	if pos.FirstTradeAt == 0 || (r.BlockTime != 0 && r.BlockTime < pos.FirstTradeAt) {
		pos.FirstTradeAt = r.BlockTime
	}
}

// finalize computes the derived fields once all records are folded.
func finalize(pos *domain.AccountPosition, unitScale int64) {
	pos.CumulativeTokens = pos.TotalBought - pos.TotalSold
	pos.RealizedPnl = pos.TotalReceived - pos.TotalSpent

	if pos.TotalBought > 0 {
		wholeBought := float64(pos.TotalBought) / float64(unitScale)
		avg := float64(pos.TotalSpent) / wholeBought
		pos.AvgCost = &avg
	}
}

// windowSince converts a day window into a block-time lower bound.
// Zero or negative windows mean no bound.
func windowSince(now time.Time, windowDays int) int64 {
	if windowDays <= 0 {
		return 0
	}
	return now.AddDate(0, 0, -windowDays).Unix()
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
