// Package slippage derives acceptable execution bounds from a user
// tolerance and builds the ledger guard conditions that enforce them.
package slippage

import (
	"errors"
	"math"

	"curvedex/internal/domain"
	"curvedex/internal/ledger"
)

// ErrInvalidTolerance is returned for a tolerance outside [0, 100].
var ErrInvalidTolerance = errors.New("slippage tolerance must be within [0, 100]")

// Plan is the guard output attached to a submission. When the guard is
// disabled the submission is permissive and the trade is tagged
// unprotected so reconciliation can tell the two apart.
type Plan struct {
	// BoundaryPrice is the worst acceptable execution price:
	// currentPrice * (1 + tolerance/100) for buys,
	// currentPrice * (1 - tolerance/100) for sells.
	BoundaryPrice float64

	// MinAcceptableOutput is floor(estimatedOutput * (1 - tolerance/100)).
	MinAcceptableOutput int64

	// Conditions enforce the bounds on the ledger. Empty when the
	// guard is disabled.
	Conditions []ledger.GuardCondition

	// Mode is GuardModeDeny when protected, GuardModeAllow otherwise.
	Mode string

	// Protected mirrors whether conditions are attached.
	Protected bool
}

// Input describes one guarded submission.
type Input struct {
	// Tolerance in percent, 0-100. Nil disables the guard. Zero with
	// the guard enabled is legal (exact-expected-output) but likely to
	// fail on a live pool; that is caller risk, not an engine error.
	Tolerance *float64

	Direction       string
	InputAmount     int64   // declared input, base units
	EstimatedOutput int64   // pricing engine estimate, base units
	CurrentPrice    float64 // pool price at submit

	// SenderAddress and PoolPrincipal bind the two conditions.
	SenderAddress string
	PoolPrincipal string

	// TokenAsset is the asset identifier of the pool token; sats are
	// the native asset ("").
	TokenAsset string
}

// Build produces the guard plan for a submission.
func Build(in Input) (*Plan, error) {
	if in.Tolerance == nil {
		return &Plan{Mode: ledger.GuardModeAllow}, nil
	}

	tol := *in.Tolerance
	if tol < 0 || tol > 100 || math.IsNaN(tol) {
		return nil, ErrInvalidTolerance
	}

	frac := tol / 100
	minOutput := int64(math.Floor(float64(in.EstimatedOutput) * (1 - frac)))

	boundary := in.CurrentPrice * (1 - frac)
	if in.Direction == domain.DirectionBuy {
		boundary = in.CurrentPrice * (1 + frac)
	}

	// Receiving asset: tokens on a buy, sats on a sell.
	receiveAsset := in.TokenAsset
	sendAsset := ""
	if in.Direction == domain.DirectionSell {
		receiveAsset = ""
		sendAsset = in.TokenAsset
	}

	conditions := []ledger.GuardCondition{
		{
			Principal: in.SenderAddress,
			Code:      ledger.CodeSendsEq,
			Asset:     sendAsset,
			Amount:    in.InputAmount,
		},
		{
			Principal: in.PoolPrincipal,
			Code:      ledger.CodeSendsGte,
			Asset:     receiveAsset,
			Amount:    minOutput,
		},
	}

	return &Plan{
		BoundaryPrice:       boundary,
		MinAcceptableOutput: minOutput,
		Conditions:          conditions,
		Mode:                ledger.GuardModeDeny,
		Protected:           true,
	}, nil
}
