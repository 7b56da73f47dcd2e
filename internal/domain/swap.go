package domain

// Direction of a swap relative to the token.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// SwapRequest is a user-initiated swap. Immutable once submitted.
type SwapRequest struct {
	Direction      string  // "buy" | "sell"
	InputAmount    int64   // sats for buy, token base units for sell
	ExpectedOutput int64   // estimated counter-amount at submit time
	PriceAtSubmit  float64 // pool price used for the estimate

	// SlippageTolerance is the user tolerance in percent (0-100).
	// Nil means the guard is disabled and submission is permissive.
	SlippageTolerance *float64

	// MinAcceptableOutput is the floored guard bound. Nil when the
	// guard is disabled.
	MinAcceptableOutput *int64
}

// Protected reports whether ledger guard conditions accompany the
// submission.
func (r *SwapRequest) Protected() bool {
	return r.SlippageTolerance != nil
}

// Pending transaction statuses. Transitions are forward-only; a
// terminal status never changes.
const (
	TxStatusPending   = "pending"
	TxStatusSuccess   = "success"
	TxStatusFailed    = "failed"
	TxStatusTimeout   = "timeout"
	TxStatusDuplicate = "duplicate"
)

// PendingTransaction tracks a submitted swap until it reaches a
// terminal status. Owned by the orchestrator.
type PendingTransaction struct {
	TransactionID string
	Direction     string
	InputAmount   int64
	SubmittedAt   int64 // Unix timestamp in milliseconds
	Status        string
}

// Terminal reports whether the transaction reached a final status.
func (p *PendingTransaction) Terminal() bool {
	switch p.Status {
	case TxStatusSuccess, TxStatusFailed, TxStatusTimeout, TxStatusDuplicate:
		return true
	}
	return false
}
