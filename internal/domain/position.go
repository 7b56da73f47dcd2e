package domain

// AccountPosition is the derived per-account view over the trade
// ledger. Never persisted as source of truth; recomputed on demand.
type AccountPosition struct {
	WalletAddress string

	TotalBought   int64 // tokens acquired, base units
	TotalSold     int64 // tokens disposed, base units
	TotalSpent    int64 // sats paid on buys
	TotalReceived int64 // sats received on sells

	// CumulativeTokens is TotalBought - TotalSold (derived holding).
	CumulativeTokens int64

	// RealizedPnl is TotalReceived - TotalSpent, sats. Realized only,
	// not mark-to-market.
	RealizedPnl int64

	// AvgCost is TotalSpent / whole tokens bought. Nil when the
	// account never bought.
	AvgCost *float64

	FirstTradeAt int64 // block time of earliest trade, Unix seconds
	TradeCount   int
}

// Leaderboard views.
const (
	LeaderboardPerformers = "performers" // ranked by realized P&L
	LeaderboardHolders    = "holders"    // ranked by net tokens held
)

// LeaderboardSize is the number of entries in each leaderboard view.
const LeaderboardSize = 10

// LeaderboardEntry is one ranked row in a leaderboard view.
type LeaderboardEntry struct {
	Rank          int
	WalletAddress string
	RealizedPnl   int64 // sats; performers view
	NetTokens     int64 // base units; holders view
	FirstTradeAt  int64 // tie-break key, Unix seconds
}
