package domain

// Amount extraction confidence, recorded per trade. Only "result" and
// "events" are authoritative; "declared" is the declared-input
// fallback and must never be promoted without re-deriving from raw
// events.
const (
	ConfidenceResult   = "result"
	ConfidenceEvents   = "events"
	ConfidenceDeclared = "declared"
)

// TradeRecord is a canonical row in the trade ledger, derived from a
// ledger-confirmed-success transaction. Corresponds to the
// trade_records table. Append-only; mutable only to backfill null
// derived fields. TransactionID is the sole dedup key.
type TradeRecord struct {
	TransactionID string // unique key
	WalletAddress string // initiating account
	Direction     string // "buy" | "sell"

	// Traded amounts. Nullable: per-field extraction failure degrades
	// the field to null, never aborts the insert.
	SatsTraded   *int64 // sats moved, absolute
	TokensTraded *int64 // token base units moved, absolute

	// ExecutionPrice is sats per whole token, recomputed from the
	// stored amounts. Null until both amounts are known.
	ExecutionPrice *float64

	// Pool balances after the trade, when the payload carried them.
	PoolSbtcAfter  *int64
	PoolTokenAfter *int64

	// AmountConfidence records where the amounts came from.
	AmountConfidence string

	// Protected marks trades submitted with slippage guard conditions.
	Protected bool

	BlockTime int64 // ledger block time, Unix seconds
	CreatedAt int64 // record creation timestamp (ms)
}

// Complete reports whether all derived fields are populated. Records
// that are not complete are candidates for the backfill pass.
func (t *TradeRecord) Complete() bool {
	return t.SatsTraded != nil &&
		t.TokensTraded != nil &&
		t.ExecutionPrice != nil &&
		t.PoolSbtcAfter != nil &&
		t.PoolTokenAfter != nil
}
