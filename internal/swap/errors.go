package swap

import "errors"

// Orchestrator errors. Each maps to one user-visible failure mode;
// callers branch with errors.Is.
var (
	// ErrInvalidInput is returned for requests rejected before any
	// network call.
	ErrInvalidInput = errors.New("invalid swap input")

	// ErrNetworkUnavailable is returned when the pre-submission health
	// check fails after the retry budget is spent.
	ErrNetworkUnavailable = errors.New("ledger endpoint unavailable")

	// ErrSubmissionRejected is returned when the ledger or the wallet
	// refuses the submission. Wallet cancellations are never retried.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrDuplicateSubmission is returned when the assigned transaction
	// id matches the session's last-submitted marker. Not a ledger
	// error; the caller must refresh pool state before retrying.
	ErrDuplicateSubmission = errors.New("duplicate submission detected")

	// ErrConfirmationTimeout is returned when the polling budget is
	// exhausted. Inconclusive, not a failure: the transaction may
	// still confirm out-of-band.
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	// ErrSwapInFlight is returned when a session already has a swap
	// between submission and terminal status.
	ErrSwapInFlight = errors.New("a swap is already in flight for this session")

	// ErrStalePoolState is returned when a fresh pool read could not
	// be obtained within the pricing freshness window.
	ErrStalePoolState = errors.New("pool state too old for pricing")
)
