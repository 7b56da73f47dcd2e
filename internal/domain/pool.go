package domain

import "time"

// Protocol constants for the bonding-curve pool.
const (
	// VirtualLiquidity is the fixed constant added to the real sBTC
	// balance to stabilize early pricing, in sats.
	VirtualLiquidity int64 = 1_500_000

	// FeeRate is the protocol fee taken from every swap.
	FeeRate = 0.02

	// TokenUnitScale is the number of base units per whole token
	// (6 decimal places).
	TokenUnitScale int64 = 1_000_000
)

// PoolState is a snapshot of the bonding-curve pool balances.
// Owned by the ledger contract; read fresh before every pricing
// decision. Snapshots older than MaxPricingAge must never back a
// final pricing decision.
type PoolState struct {
	SbtcBalance      int64     // real sBTC reserve, sats
	TokenBalance     int64     // token reserve, base units
	LockedTokens     int64     // tokens locked out of the curve, base units
	VirtualLiquidity int64     // protocol constant, sats
	ObservedAt       time.Time // when the snapshot was read
}

// MaxPricingAge is the oldest a pool snapshot may be when used for a
// submission-time pricing decision. Older snapshots are display-only.
const MaxPricingAge = 15 * time.Second

// AvailableTokens returns the token balance available to the curve.
func (p *PoolState) AvailableTokens() int64 {
	return p.TokenBalance - p.LockedTokens
}

// FreshFor reports whether the snapshot is recent enough for a final
// pricing decision at time now.
func (p *PoolState) FreshFor(now time.Time) bool {
	return now.Sub(p.ObservedAt) <= MaxPricingAge
}

// PriceTick is a display-only price observation, stored in the
// timeseries store for history charts. Never used for pricing a
// submission.
type PriceTick struct {
	Price        float64 // sats per token base unit
	SbtcBalance  int64
	TokenBalance int64
	ObservedAt   int64 // Unix timestamp in milliseconds
}
