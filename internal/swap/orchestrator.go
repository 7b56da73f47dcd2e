// Package swap drives a single swap through its lifecycle:
// Built -> Submitted -> Pending -> {Confirmed, Failed, TimedOut,
// DuplicateDetected}. One orchestrator serves all sessions; per-swap
// state lives in the Session the caller passes in.
package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/ledger"
	"curvedex/internal/observability"
	"curvedex/internal/pricing"
	"curvedex/internal/slippage"
)

// Swap lifecycle states. Transitions are forward-only.
type State string

const (
	StateBuilt             State = "built"
	StateSubmitted         State = "submitted"
	StatePending           State = "pending"
	StateConfirmed         State = "confirmed"
	StateFailed            State = "failed"
	StateTimedOut          State = "timed_out"
	StateDuplicateDetected State = "duplicate_detected"
)

// Default timing parameters.
const (
	DefaultPollInterval  = 3 * time.Second
	DefaultPollTimeout   = 60 * time.Second
	DefaultHealthRetries = 2
	DefaultRetryStep     = 1 * time.Second
)

// Contract swap entry points.
const (
	FunctionBuy  = "buy-tokens"
	FunctionSell = "sell-tokens"
)

// Reconciler turns a confirmed transaction into a stored trade
// record. Satisfied by reconcile.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, tx *ledger.Transaction) (*domain.TradeRecord, error)
}

// Order is the caller's swap intent. Everything else (price, estimate,
// guard plan) is derived from a fresh pool read at execution time.
type Order struct {
	Direction   string // "buy" | "sell"
	InputAmount int64  // sats for buy, token base units for sell

	// SlippageTolerance in percent. Nil disables the guard and the
	// submission goes out permissive and tagged unprotected.
	SlippageTolerance *float64
}

// Outcome is the result of one Execute call.
type Outcome struct {
	State         State
	TransactionID string

	Direction       string
	InputAmount     int64
	EstimatedOutput int64
	PriceAtSubmit   float64
	Plan            *slippage.Plan

	// LedgerStatus is the raw terminal status from the ledger, empty
	// before confirmation.
	LedgerStatus string

	// Record is the reconciled trade record, set only on Confirmed.
	Record *domain.TradeRecord
}

// Orchestrator executes swaps against a PoolSource.
type Orchestrator struct {
	source     PoolSource
	reconciler Reconciler
	observers  Observers

	// feed optionally short-circuits polling with pushed status
	// updates. Feed statuses are advisory only; a direct lookup
	// decides.
	feed <-chan ledger.TxUpdate

	contractAddress string
	contractName    string
	tokenAsset      string

	pollInterval  time.Duration
	pollTimeout   time.Duration
	healthRetries int
	retryStep     time.Duration

	metrics *observability.Metrics
	logger  *log.Logger
}

// Options for creating an Orchestrator.
type Options struct {
	// Required
	Source          PoolSource
	ContractAddress string
	ContractName    string
	TokenAsset      string

	// Optional
	Reconciler    Reconciler
	Observers     []Observer
	Feed          <-chan ledger.TxUpdate
	PollInterval  time.Duration
	PollTimeout   time.Duration
	HealthRetries int
	RetryStep     time.Duration
	Metrics       *observability.Metrics
	Logger        *log.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeout
	}
	healthRetries := opts.HealthRetries
	if healthRetries == 0 {
		healthRetries = DefaultHealthRetries
	}
	retryStep := opts.RetryStep
	if retryStep == 0 {
		retryStep = DefaultRetryStep
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		source:          opts.Source,
		reconciler:      opts.Reconciler,
		observers:       opts.Observers,
		feed:            opts.Feed,
		contractAddress: opts.ContractAddress,
		contractName:    opts.ContractName,
		tokenAsset:      opts.TokenAsset,
		pollInterval:    pollInterval,
		pollTimeout:     pollTimeout,
		healthRetries:   healthRetries,
		retryStep:       retryStep,
		metrics:         opts.Metrics,
		logger:          logger,
	}
}

// Execute runs one swap to a terminal state. The returned error is an
// orchestration error (invalid input, connectivity, rejection,
// duplicate, timeout); a transaction the ledger itself aborted is not
// an error and comes back as Outcome.State == StateFailed. The
// context cancels only local waiting, never the broadcast
// transaction.
func (o *Orchestrator) Execute(ctx context.Context, sess *Session, order Order) (*Outcome, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	if !sess.begin() {
		return nil, ErrSwapInFlight
	}
	defer sess.finish()

	outcome := &Outcome{
		State:       StateBuilt,
		Direction:   order.Direction,
		InputAmount: order.InputAmount,
	}

	if err := o.checkHealth(ctx); err != nil {
		return outcome, err
	}

	if err := o.price(ctx, sess, order, outcome); err != nil {
		return outcome, err
	}

	plan, err := slippage.Build(slippage.Input{
		Tolerance:       order.SlippageTolerance,
		Direction:       order.Direction,
		InputAmount:     order.InputAmount,
		EstimatedOutput: outcome.EstimatedOutput,
		CurrentPrice:    outcome.PriceAtSubmit,
		SenderAddress:   sess.WalletAddress,
		PoolPrincipal:   o.contractAddress + "." + o.contractName,
		TokenAsset:      o.tokenAsset,
	})
	if err != nil {
		return outcome, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	outcome.Plan = plan

	txID, err := o.submit(ctx, sess, order, plan)
	if err != nil {
		outcome.State = StateFailed
		o.notifyFailed(outcome, err)
		o.countSubmitError(err)
		return outcome, err
	}
	outcome.State = StateSubmitted
	outcome.TransactionID = txID

	if !sess.markSubmitted(txID) {
		outcome.State = StateDuplicateDetected
		if o.metrics != nil {
			o.metrics.DuplicatesCaught.Inc()
		}
		err := fmt.Errorf("%w: transaction id %s was already submitted", ErrDuplicateSubmission, txID)
		o.notifyFailed(outcome, err)
		return outcome, err
	}

	outcome.State = StatePending
	if o.metrics != nil {
		o.metrics.SwapsSubmitted.WithLabelValues(order.Direction).Inc()
	}
	o.observers.pending(Notification{
		Direction:     order.Direction,
		InputAmount:   order.InputAmount,
		TransactionID: txID,
	})

	submittedAt := time.Now()
	tx, err := o.waitForTerminalStatus(ctx, txID)
	if err != nil {
		return outcome, err
	}
	if o.metrics != nil {
		o.metrics.PollDuration.Observe(time.Since(submittedAt).Seconds())
	}

	if tx == nil {
		// Polling budget exhausted. The transaction may still confirm
		// later; only local waiting stops here.
		outcome.State = StateTimedOut
		if o.metrics != nil {
			o.metrics.PollTimeouts.Inc()
			o.metrics.SwapsCompleted.WithLabelValues(string(StateTimedOut)).Inc()
		}
		o.logger.Printf("[swap] tx %s: no terminal status within %s", txID, o.pollTimeout)
		return outcome, ErrConfirmationTimeout
	}

	outcome.LedgerStatus = tx.Status
	if tx.Status == ledger.StatusSuccess {
		outcome.State = StateConfirmed
		o.confirm(ctx, tx, outcome)
	} else {
		outcome.State = StateFailed
		o.logger.Printf("[swap] tx %s aborted with status %s", txID, tx.Status)
		o.notifyFailed(outcome, fmt.Errorf("ledger status %s", tx.Status))
	}
	if o.metrics != nil {
		o.metrics.SwapsCompleted.WithLabelValues(string(outcome.State)).Inc()
	}
	return outcome, nil
}

func validateOrder(order Order) error {
	if order.Direction != domain.DirectionBuy && order.Direction != domain.DirectionSell {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, order.Direction)
	}
	if order.InputAmount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// checkHealth runs the pre-submission health check with a fixed-step
// backoff, surfacing ErrNetworkUnavailable once the budget is spent.
func (o *Orchestrator) checkHealth(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= o.healthRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * o.retryStep):
			}
		}
		if lastErr = o.source.Health(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, lastErr)
}

// price re-reads the pool immediately before pricing, validates the
// order against it, and fills the estimate. Cached snapshots never
// back a submission.
func (o *Orchestrator) price(ctx context.Context, sess *Session, order Order, outcome *Outcome) error {
	pool, err := o.source.ReadBalances(ctx)
	if err != nil {
		if o.metrics != nil {
			o.metrics.PriceReadErrors.Inc()
		}
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if !pool.FreshFor(time.Now()) {
		return ErrStalePoolState
	}

	price, err := pricing.CurrentPrice(pool)
	if err != nil {
		return err
	}

	if order.Direction == domain.DirectionSell {
		reported, err := o.source.AccountTokenBalance(ctx, sess.WalletAddress)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
		if order.InputAmount > pricing.MaxSellable(reported) {
			return fmt.Errorf("%w: sell amount %d exceeds sellable balance", ErrInvalidInput, order.InputAmount)
		}
	}

	estimate, err := pricing.EstimatedOutput(order.Direction, order.InputAmount, price)
	if err != nil {
		return err
	}

	outcome.PriceAtSubmit = price
	outcome.EstimatedOutput = estimate
	return nil
}

// submit dispatches the contract call. Wallet cancellations go
// straight to Failed without retry; connectivity retries happen
// inside the ledger client.
func (o *Orchestrator) submit(ctx context.Context, sess *Session, order Order, plan *slippage.Plan) (string, error) {
	function := FunctionBuy
	if order.Direction == domain.DirectionSell {
		function = FunctionSell
	}

	args := []ledger.Value{mustNumber(order.InputAmount)}
	if plan.Protected {
		args = append(args, mustNumber(plan.MinAcceptableOutput))
	}

	txID, err := o.source.Submit(ctx, &ledger.ContractCall{
		ContractAddress: o.contractAddress,
		ContractName:    o.contractName,
		FunctionName:    function,
		Args:            args,
		Sender:          sess.WalletAddress,
		GuardConditions: plan.Conditions,
		GuardMode:       plan.Mode,
	})
	if err != nil {
		// Wrap both so callers can tell a wallet cancellation from a
		// connectivity rejection.
		return "", fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}
	if txID == "" {
		return "", fmt.Errorf("%w: ledger returned empty transaction id", ErrSubmissionRejected)
	}
	return txID, nil
}

// waitForTerminalStatus polls until the transaction reaches a terminal
// status or the budget runs out. Returns nil, nil on timeout. A feed
// update for the transaction triggers an immediate direct lookup, but
// the lookup's status always wins over the pushed one.
func (o *Orchestrator) waitForTerminalStatus(ctx context.Context, txID string) (*ledger.Transaction, error) {
	deadline := time.NewTimer(o.pollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Local copy so a closed feed can be disabled without touching
	// the shared orchestrator.
	feed := o.feed

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case update, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			if update.TransactionID != txID || !ledger.TerminalStatus(update.Status) {
				continue
			}
			if o.metrics != nil {
				o.metrics.FeedFastPaths.Inc()
			}
			if tx := o.lookup(ctx, txID); tx != nil {
				return tx, nil
			}
		case <-ticker.C:
			if tx := o.lookup(ctx, txID); tx != nil {
				return tx, nil
			}
		}
	}
}

// lookup returns the transaction only once it has a terminal status.
func (o *Orchestrator) lookup(ctx context.Context, txID string) *ledger.Transaction {
	tx, err := o.source.PollStatus(ctx, txID)
	if err != nil {
		o.logger.Printf("[swap] poll tx %s: %v", txID, err)
		return nil
	}
	if tx == nil || !ledger.TerminalStatus(tx.Status) {
		return nil
	}
	return tx
}

// confirm hands the confirmed payload to the reconciler and notifies
// observers. Reconciliation failure does not fail the swap; backfill
// repairs the record later.
func (o *Orchestrator) confirm(ctx context.Context, tx *ledger.Transaction, outcome *Outcome) {
	if o.reconciler != nil {
		record, err := o.reconciler.Reconcile(ctx, tx)
		if err != nil {
			o.logger.Printf("[swap] reconcile tx %s: %v", tx.TransactionID, err)
		} else {
			outcome.Record = record
		}
	}
	o.observers.successful(Notification{
		Direction:     outcome.Direction,
		InputAmount:   outcome.InputAmount,
		TransactionID: outcome.TransactionID,
		Record:        outcome.Record,
	})
}

func (o *Orchestrator) notifyFailed(outcome *Outcome, err error) {
	o.observers.failed(Notification{
		Direction:     outcome.Direction,
		InputAmount:   outcome.InputAmount,
		TransactionID: outcome.TransactionID,
		Err:           err,
	})
}

func (o *Orchestrator) countSubmitError(err error) {
	if o.metrics == nil {
		return
	}
	errType := "rejected"
	if errors.Is(err, ledger.ErrUserRejected) {
		errType = "user_cancelled"
	}
	o.metrics.SwapSubmitErrors.WithLabelValues(errType).Inc()
}

func mustNumber(n int64) ledger.Value {
	raw, _ := json.Marshal(n)
	return ledger.Value{Raw: raw}
}
