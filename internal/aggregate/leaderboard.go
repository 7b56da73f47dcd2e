package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"curvedex/internal/domain"
)

// ErrUnknownView is returned for a leaderboard view that is neither
// performers nor holders.
var ErrUnknownView = errors.New("unknown leaderboard view")

// Leaderboard ranks accounts over a window. Performers rank by
// realized P&L, holders by net tokens held; only positive values are
// listed. Ties break by earliest first trade, stable. At most
// domain.LeaderboardSize entries.
func (e *Engine) Leaderboard(ctx context.Context, view string, windowDays int) ([]domain.LeaderboardEntry, error) {
	if view != domain.LeaderboardPerformers && view != domain.LeaderboardHolders {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	records, err := e.store.GetSince(ctx, windowSince(time.Now(), windowDays))
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	byWallet := make(map[string]*domain.AccountPosition)
	for _, r := range records {
		pos, ok := byWallet[r.WalletAddress]
		if !ok {
			pos = &domain.AccountPosition{WalletAddress: r.WalletAddress}
			byWallet[r.WalletAddress] = pos
		}
		accumulate(pos, r)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(byWallet))
	for _, pos := range byWallet {
		finalize(pos, e.unitScale)
		entry := domain.LeaderboardEntry{
			WalletAddress: pos.WalletAddress,
			RealizedPnl:   pos.RealizedPnl,
			NetTokens:     pos.CumulativeTokens,
			FirstTradeAt:  pos.FirstTradeAt,
		}
		if metric(view, entry) <= 0 {
			continue
		}
		entries = append(entries, entry)
	}

	// Map iteration order is random; sort by wallet first so the
	// stable metric sort has a deterministic base order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].WalletAddress < entries[j].WalletAddress
	})
	sort.SliceStable(entries, func(i, j int) bool {
		mi, mj := metric(view, entries[i]), metric(view, entries[j])
		if mi != mj {
			return mi > mj
		}
		return entries[i].FirstTradeAt < entries[j].FirstTradeAt
	})

	if len(entries) > domain.LeaderboardSize {
		entries = entries[:domain.LeaderboardSize]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func metric(view string, entry domain.LeaderboardEntry) int64 {
	if view == domain.LeaderboardHolders {
		return entry.NetTokens
	}
	return entry.RealizedPnl
}
