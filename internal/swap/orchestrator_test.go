package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/ledger"
	"curvedex/internal/ledger/stub"
	"curvedex/internal/reconcile"
	"curvedex/internal/storage"
	"curvedex/internal/storage/memory"
)

const (
	testContractAddress = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	testContractName    = "curve-pool"
	testTokenAsset      = testContractAddress + ".curve-token::curve"
	testWallet          = "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE"
)

func tol(v float64) *float64 { return &v }

// recordingObserver captures lifecycle notifications.
type recordingObserver struct {
	mu         sync.Mutex
	pending    []Notification
	successful []Notification
	failed     []Notification
}

func (r *recordingObserver) TransactionPending(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, n)
}

func (r *recordingObserver) TransactionSuccessful(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successful = append(r.successful, n)
}

func (r *recordingObserver) TransactionFailed(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, n)
}

// setPool configures the stub's pool read. Scenario pool: price 2.0.
func setPool(t *testing.T, client *stub.Client, sbtc, token, locked int64) {
	t.Helper()
	raw, err := json.Marshal(map[string]int64{
		"sbtc_balance":      sbtc,
		"token_balance":     token,
		"locked_tokens":     locked,
		"virtual_liquidity": domain.VirtualLiquidity,
	})
	if err != nil {
		t.Fatalf("marshal pool info: %v", err)
	}
	client.ReadOnlyResults[testContractName+"."+functionPoolInfo] = &ledger.Value{Raw: raw}
}

func setBalance(t *testing.T, client *stub.Client, tokens int64) {
	t.Helper()
	raw, err := json.Marshal(tokens)
	if err != nil {
		t.Fatalf("marshal balance: %v", err)
	}
	client.ReadOnlyResults[testContractName+"."+functionBalance] = &ledger.Value{Raw: raw}
}

// successTx builds a confirmed buy/sell payload with a full result
// tuple, the shape the reconciler prefers.
func successTx(txID, function string, sats, tokens int64) *ledger.Transaction {
	raw, _ := json.Marshal(map[string]int64{
		"sats":        sats,
		"tokens":      tokens,
		"pool_sbtc":   500_000 + sats,
		"pool_tokens": 1_000_000 - tokens,
	})
	return &ledger.Transaction{
		TransactionID: txID,
		Status:        ledger.StatusSuccess,
		BlockHeight:   120,
		BlockTime:     1_700_000_000,
		Sender:        testWallet,
		ContractID:    testContractAddress + "." + testContractName,
		FunctionName:  function,
		Result:        &ledger.Value{Raw: raw},
	}
}

type fixture struct {
	client   *stub.Client
	store    *memory.TradeRecordStore
	observer *recordingObserver
	orch     *Orchestrator
	sess     *Session
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()

	client := stub.New()
	store := memory.NewTradeRecordStore()
	observer := &recordingObserver{}
	setPool(t, client, 500_000, 1_000_000, 0)

	opts := Options{
		Source:          NewLedgerPoolSource(client, testContractAddress, testContractName),
		ContractAddress: testContractAddress,
		ContractName:    testContractName,
		TokenAsset:      testTokenAsset,
		Reconciler: reconcile.New(reconcile.Options{
			Store:      store,
			TokenAsset: testTokenAsset,
		}),
		Observers:     []Observer{observer},
		PollInterval:  5 * time.Millisecond,
		PollTimeout:   250 * time.Millisecond,
		HealthRetries: 1,
		RetryStep:     time.Millisecond,
		Logger:        log.New(discard{}, "", 0),
	}
	if tweak != nil {
		tweak(&opts)
	}

	return &fixture{
		client:   client,
		store:    store,
		observer: observer,
		orch:     New(opts),
		sess:     NewSession(testWallet),
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestExecute_BuyConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	f.client.SubmitIDs = []string{"0x01"}
	f.client.SetTransaction(successTx("0x01", FunctionBuy, 1000, 490))

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:         domain.DirectionBuy,
		InputAmount:       1000,
		SlippageTolerance: tol(5),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if outcome.State != StateConfirmed {
		t.Fatalf("state = %s, want %s", outcome.State, StateConfirmed)
	}
	if outcome.PriceAtSubmit != 2.0 {
		t.Errorf("PriceAtSubmit = %v, want 2.0", outcome.PriceAtSubmit)
	}
	if outcome.EstimatedOutput != 490 {
		t.Errorf("EstimatedOutput = %d, want 490", outcome.EstimatedOutput)
	}
	if outcome.Record == nil {
		t.Fatal("expected a reconciled record")
	}
	if got := *outcome.Record.TokensTraded; got != 490 {
		t.Errorf("TokensTraded = %d, want 490", got)
	}

	stored, err := f.store.GetByTransactionID(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.WalletAddress != testWallet {
		t.Errorf("WalletAddress = %s, want %s", stored.WalletAddress, testWallet)
	}

	if len(f.client.Calls) != 1 {
		t.Fatalf("submissions = %d, want 1", len(f.client.Calls))
	}
	call := f.client.Calls[0]
	if call.FunctionName != FunctionBuy {
		t.Errorf("function = %s, want %s", call.FunctionName, FunctionBuy)
	}
	if call.GuardMode != ledger.GuardModeDeny {
		t.Errorf("guard mode = %s, want deny", call.GuardMode)
	}
	if len(call.GuardConditions) != 2 {
		t.Errorf("guard conditions = %d, want 2", len(call.GuardConditions))
	}
	// amount plus guard-bound argument
	if len(call.Args) != 2 {
		t.Fatalf("args = %d, want 2", len(call.Args))
	}
	var minOut int64
	if err := call.Args[1].UnmarshalInto(&minOut); err != nil {
		t.Fatalf("decode min-out arg: %v", err)
	}
	if minOut != 465 {
		t.Errorf("min-out arg = %d, want 465", minOut)
	}

	if len(f.observer.pending) != 1 || len(f.observer.successful) != 1 {
		t.Errorf("notifications pending=%d successful=%d, want 1/1",
			len(f.observer.pending), len(f.observer.successful))
	}
	if f.sess.LastTransactionID() != "0x01" {
		t.Errorf("marker = %s, want 0x01", f.sess.LastTransactionID())
	}
}

func TestExecute_SellUnprotected(t *testing.T) {
	f := newFixture(t, nil)
	setBalance(t, f.client, 50_000)
	f.client.SubmitIDs = []string{"0x02"}
	f.client.SetTransaction(successTx("0x02", FunctionSell, 19_600, 10_000))

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionSell,
		InputAmount: 10_000,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if outcome.State != StateConfirmed {
		t.Fatalf("state = %s, want %s", outcome.State, StateConfirmed)
	}
	if outcome.EstimatedOutput != 19_600 {
		t.Errorf("EstimatedOutput = %d, want 19600", outcome.EstimatedOutput)
	}

	call := f.client.Calls[0]
	if call.FunctionName != FunctionSell {
		t.Errorf("function = %s, want %s", call.FunctionName, FunctionSell)
	}
	if call.GuardMode != ledger.GuardModeAllow {
		t.Errorf("guard mode = %s, want allow", call.GuardMode)
	}
	if len(call.GuardConditions) != 0 {
		t.Errorf("guard conditions = %d, want 0", len(call.GuardConditions))
	}
	if len(call.Args) != 1 {
		t.Errorf("args = %d, want 1 (no guard bound)", len(call.Args))
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)

	cases := []Order{
		{Direction: "short", InputAmount: 100},
		{Direction: domain.DirectionBuy, InputAmount: 0},
		{Direction: domain.DirectionBuy, InputAmount: -5},
	}
	for _, order := range cases {
		if _, err := f.orch.Execute(context.Background(), f.sess, order); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("order %+v: err = %v, want ErrInvalidInput", order, err)
		}
	}
	if len(f.client.Calls) != 0 {
		t.Errorf("submissions = %d, want 0 (rejected pre-network)", len(f.client.Calls))
	}
}

func TestExecute_SellExceedsSellableBalance(t *testing.T) {
	f := newFixture(t, nil)
	setBalance(t, f.client, 5_000)

	// MaxSellable keeps one base unit back, so the full reported
	// balance is already over the line.
	_, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionSell,
		InputAmount: 5_000,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if len(f.client.Calls) != 0 {
		t.Errorf("submissions = %d, want 0", len(f.client.Calls))
	}
}

func TestExecute_HealthCheckFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.client.HealthErr = errors.New("connection refused")

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	})
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("err = %v, want ErrNetworkUnavailable", err)
	}
	if outcome.State != StateBuilt {
		t.Errorf("state = %s, want %s", outcome.State, StateBuilt)
	}
	if len(f.client.Calls) != 0 {
		t.Errorf("submissions = %d, want 0", len(f.client.Calls))
	}
}

func TestExecute_WalletCancellation(t *testing.T) {
	f := newFixture(t, nil)
	f.client.SubmitErr = fmt.Errorf("%w: prompt dismissed", ledger.ErrUserRejected)

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:         domain.DirectionBuy,
		InputAmount:       1000,
		SlippageTolerance: tol(2),
	})
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("err = %v, want ErrSubmissionRejected", err)
	}
	if !errors.Is(err, ledger.ErrUserRejected) {
		t.Fatalf("err = %v, want wrapped ErrUserRejected", err)
	}
	if outcome.State != StateFailed {
		t.Errorf("state = %s, want %s", outcome.State, StateFailed)
	}
	// one dispatch, no retry on cancellation
	if len(f.client.Calls) != 1 {
		t.Errorf("submissions = %d, want 1", len(f.client.Calls))
	}
	if len(f.observer.failed) != 1 {
		t.Errorf("failed notifications = %d, want 1", len(f.observer.failed))
	}
}

func TestExecute_DuplicateDetected(t *testing.T) {
	f := newFixture(t, nil)
	f.client.SubmitIDs = []string{"0x0a", "0x0a"}
	f.client.SetTransaction(successTx("0x0a", FunctionBuy, 1000, 490))

	if _, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	}); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	})
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("err = %v, want ErrDuplicateSubmission", err)
	}
	if outcome.State != StateDuplicateDetected {
		t.Errorf("state = %s, want %s", outcome.State, StateDuplicateDetected)
	}
	// the marker survives so a third identical id is still caught
	if f.sess.LastTransactionID() != "0x0a" {
		t.Errorf("marker = %s, want 0x0a", f.sess.LastTransactionID())
	}
}

func TestExecute_TimeoutWritesNoRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.client.SubmitIDs = []string{"0x0d"}
	f.client.SetTransaction(&ledger.Transaction{
		TransactionID: "0x0d",
		Status:        ledger.StatusPending,
	})

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	})
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("err = %v, want ErrConfirmationTimeout", err)
	}
	if outcome.State != StateTimedOut {
		t.Errorf("state = %s, want %s", outcome.State, StateTimedOut)
	}
	if _, err := f.store.GetByTransactionID(context.Background(), "0x0d"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected no trade record after timeout, got err %v", err)
	}
	// budget of 250ms at 5ms interval means the stub was polled
	if f.client.GetTransactionCount == 0 {
		t.Error("expected at least one status poll")
	}
	if len(f.observer.successful) != 0 || len(f.observer.failed) != 0 {
		t.Error("timeout is inconclusive, no terminal notification expected")
	}
}

func TestExecute_LedgerAbortIsFailedNotError(t *testing.T) {
	f := newFixture(t, nil)
	f.client.SubmitIDs = []string{"0x0e"}
	f.client.SetTransaction(&ledger.Transaction{
		TransactionID: "0x0e",
		Status:        ledger.StatusAbortByGuard,
		FunctionName:  FunctionBuy,
		Sender:        testWallet,
	})

	outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:         domain.DirectionBuy,
		InputAmount:       1000,
		SlippageTolerance: tol(1),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.State != StateFailed {
		t.Fatalf("state = %s, want %s", outcome.State, StateFailed)
	}
	if outcome.LedgerStatus != ledger.StatusAbortByGuard {
		t.Errorf("LedgerStatus = %s, want %s", outcome.LedgerStatus, ledger.StatusAbortByGuard)
	}
	if _, err := f.store.GetByTransactionID(context.Background(), "0x0e"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("aborted transactions must not reconcile, got err %v", err)
	}
	if len(f.observer.failed) != 1 {
		t.Errorf("failed notifications = %d, want 1", len(f.observer.failed))
	}
}

func TestExecute_SecondSwapBlockedWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)

	if !f.sess.begin() {
		t.Fatal("begin on a fresh session should succeed")
	}
	defer f.sess.finish()

	_, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	})
	if !errors.Is(err, ErrSwapInFlight) {
		t.Fatalf("err = %v, want ErrSwapInFlight", err)
	}
}

func TestExecute_FeedFastPathDirectLookupWins(t *testing.T) {
	feed := make(chan ledger.TxUpdate, 4)
	f := newFixture(t, func(opts *Options) {
		opts.Feed = feed
		// slow ticker so only the feed can finish the wait early
		opts.PollInterval = 150 * time.Millisecond
		opts.PollTimeout = 400 * time.Millisecond
	})
	f.client.SubmitIDs = []string{"0x0f"}
	f.client.SetTransaction(&ledger.Transaction{
		TransactionID: "0x0f",
		Status:        ledger.StatusPending,
	})

	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := f.orch.Execute(context.Background(), f.sess, Order{
			Direction:   domain.DirectionBuy,
			InputAmount: 1000,
		})
		done <- result{outcome, err}
	}()

	// A pushed terminal status with a still-pending direct lookup
	// must not conclude the swap.
	time.Sleep(20 * time.Millisecond)
	feed <- ledger.TxUpdate{TransactionID: "0x0f", Status: ledger.StatusSuccess}

	select {
	case res := <-done:
		t.Fatalf("swap concluded on feed alone: %+v, %v", res.outcome, res.err)
	case <-time.After(50 * time.Millisecond):
	}

	// Once the direct lookup agrees, the feed update resolves the
	// wait before the next poll tick.
	f.client.SetTransaction(successTx("0x0f", FunctionBuy, 1000, 490))
	feed <- ledger.TxUpdate{TransactionID: "0x0f", Status: ledger.StatusSuccess}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Execute: %v", res.err)
		}
		if res.outcome.State != StateConfirmed {
			t.Fatalf("state = %s, want %s", res.outcome.State, StateConfirmed)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("feed fast path did not resolve the wait")
	}
}

func TestExecute_InsufficientLiquidity(t *testing.T) {
	f := newFixture(t, nil)
	// everything locked, nothing available to the curve
	setPool(t, f.client, 500_000, 1_000_000, 1_000_000)

	_, err := f.orch.Execute(context.Background(), f.sess, Order{
		Direction:   domain.DirectionBuy,
		InputAmount: 1000,
	})
	if err == nil {
		t.Fatal("expected a pricing error on a drained pool")
	}
	if len(f.client.Calls) != 0 {
		t.Errorf("submissions = %d, want 0", len(f.client.Calls))
	}
}
