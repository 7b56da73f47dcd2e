// Package ledger provides read, submit, and status access to the
// remote contract ledger over JSON-RPC, plus a WebSocket event feed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUserRejected marks a submission the wallet holder declined at
// the signing prompt. Never retried.
var ErrUserRejected = errors.New("user rejected the transaction")

// Transaction statuses as reported by the ledger. A transaction with
// none of these is still in the mempool.
const (
	StatusPending              = "pending"
	StatusSuccess              = "success"
	StatusAbortByResponse      = "abort_by_response"
	StatusAbortByGuard         = "abort_by_guard_condition"
	StatusDroppedReplaceByFee  = "dropped_replace_by_fee"
	StatusDroppedStaleGarbage  = "dropped_stale_garbage_collect"
	StatusDroppedTooExpensive  = "dropped_too_expensive"
)

// TerminalStatus reports whether a ledger status is final.
func TerminalStatus(status string) bool {
	return status != "" && status != StatusPending
}

// Value is an opaque clarity-style value returned by read-only calls
// and transaction results.
type Value struct {
	Raw json.RawMessage
}

// UnmarshalInto decodes the value into v.
func (val *Value) UnmarshalInto(v interface{}) error {
	return json.Unmarshal(val.Raw, v)
}

// Event is a typed event emitted by a transaction.
type Event struct {
	Type      string `json:"type"`       // "ft_transfer_event" | "stx_transfer_event" | ...
	Asset     string `json:"asset"`      // asset identifier
	Amount    int64  `json:"amount,string"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// Transaction is the full confirmed or pending transaction payload.
type Transaction struct {
	TransactionID string  `json:"tx_id"`
	Status        string  `json:"tx_status"`
	BlockHeight   int64   `json:"block_height"`
	BlockTime     int64   `json:"block_time"` // Unix seconds
	Sender        string  `json:"sender_address"`
	Fee           int64   `json:"fee_rate,string"`
	ContractID    string  `json:"contract_id"`
	FunctionName  string  `json:"function_name"`
	FunctionArgs  []Value `json:"function_args"`
	Events        []Event `json:"events"`
	Result        *Value  `json:"tx_result"`

	// Guard metadata lets reconciliation distinguish protected from
	// unprotected trades.
	GuardConditions []GuardCondition `json:"guard_conditions"`
	GuardMode       string           `json:"guard_mode"`
}

// Protected reports whether the transaction carried enforced guard
// conditions.
func (t *Transaction) Protected() bool {
	return t.GuardMode == GuardModeDeny && len(t.GuardConditions) > 0
}

// Guard condition codes enforced by the ledger at execution time.
const (
	CodeSendsEq  = "sends-eq"  // principal sends exactly Amount
	CodeSendsGte = "sends-gte" // principal sends at least Amount
)

// GuardCondition is a ledger-enforced assertion attached to a
// submission. The transaction aborts if any condition is violated.
type GuardCondition struct {
	Principal string `json:"principal"` // account or contract the condition binds
	Code      string `json:"code"`
	Asset     string `json:"asset"` // "" for the native asset
	Amount    int64  `json:"amount,string"`
}

// Guard modes. Deny rejects any asset movement not covered by a
// condition; allow permits uncovered movements (the trust-the-chain
// fallback when the slippage guard is disabled).
const (
	GuardModeDeny  = "deny"
	GuardModeAllow = "allow"
)

// ContractCall is a state-changing contract submission.
type ContractCall struct {
	ContractAddress string
	ContractName    string
	FunctionName    string
	Args            []Value
	Sender          string
	GuardConditions []GuardCondition
	GuardMode       string
}

// SubmitResult is the ledger's acknowledgement of a submission.
type SubmitResult struct {
	TransactionID string `json:"txid"`
}

// Client is the ledger access interface used by the orchestrator and
// the reconciler's backfill pass.
type Client interface {
	// ReadOnlyCall evaluates a read-only contract function.
	ReadOnlyCall(ctx context.Context, contractAddress, contractName, functionName string, args []Value) (*Value, error)

	// CallContract dispatches a state-changing call with optional
	// guard conditions. Returns the assigned transaction id.
	CallContract(ctx context.Context, call *ContractCall) (*SubmitResult, error)

	// GetTransaction retrieves a transaction by id. Returns nil, nil
	// when the ledger does not know the transaction yet.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Health verifies the ledger endpoint is reachable.
	Health(ctx context.Context) error
}
