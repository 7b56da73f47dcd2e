// Package pricing computes bonding-curve prices and expected trade
// outputs from pool balances.
package pricing

import (
	"errors"
	"math"

	"curvedex/internal/domain"
)

// Pricing errors.
var (
	// ErrInsufficientLiquidity is returned when the pool has no
	// available tokens. Callers must not proceed to a swap.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity: no tokens available in pool")

	// ErrInvalidAmount is returned for a non-positive or non-finite
	// input amount.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")
)

// CurrentPrice returns the pool price in sats per token base unit:
// (sbtcBalance + virtualLiquidity) / (tokenBalance - lockedTokens).
func CurrentPrice(pool *domain.PoolState) (float64, error) {
	available := pool.AvailableTokens()
	if available <= 0 {
		return 0, ErrInsufficientLiquidity
	}

	virtual := pool.VirtualLiquidity
	if virtual == 0 {
		virtual = domain.VirtualLiquidity
	}

	return float64(pool.SbtcBalance+virtual) / float64(available), nil
}

// EstimatedOutput computes the expected counter-amount for a swap at a
// given price, after the protocol fee. Buys pay sats and receive
// tokens; sells pay tokens and receive sats. The result is floored to
// the smallest unit of the receiving asset, never rounded up.
func EstimatedOutput(direction string, amount int64, price float64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, ErrInvalidAmount
	}

	net := float64(amount) * (1 - domain.FeeRate)

	switch direction {
	case domain.DirectionBuy:
		return int64(math.Floor(net / price)), nil
	case domain.DirectionSell:
		return int64(math.Floor(net * price)), nil
	default:
		return 0, ErrInvalidAmount
	}
}

// MaxSpendable returns the largest buy input for a reported sats
// balance. One base unit is held back from the reported balance.
func MaxSpendable(reportedSats int64) int64 {
	if reportedSats <= 1 {
		return 0
	}
	return reportedSats - 1
}

// MaxSellable returns the largest sell input for a reported token
// balance. One base unit is held back from the reported balance.
func MaxSellable(reportedTokens int64) int64 {
	if reportedTokens <= 1 {
		return 0
	}
	return reportedTokens - 1
}
