// Package stub provides an in-memory ledger.Client for testing.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"curvedex/internal/ledger"
)

// ErrNotFound is returned when a read-only target is not configured.
var ErrNotFound = errors.New("not found")

// Client implements ledger.Client for testing. All fields may be
// mutated between calls; access is mutex-guarded so tests can drive
// the client from poll goroutines.
type Client struct {
	mu sync.Mutex

	// ReadOnlyResults maps "contract.function" to the returned value.
	ReadOnlyResults map[string]*ledger.Value

	// Transactions maps tx id to the payload GetTransaction returns.
	Transactions map[string]*ledger.Transaction

	// SubmitIDs is the queue of transaction ids CallContract hands
	// out, in order. When exhausted, CallContract fails.
	SubmitIDs []string

	// SubmitErr, HealthErr, ReadErr force the respective call to fail.
	SubmitErr error
	HealthErr error
	ReadErr   error

	// Calls records every CallContract submission.
	Calls []*ledger.ContractCall

	// GetTransactionCount counts status lookups.
	GetTransactionCount int
}

// New creates a stub ledger client.
func New() *Client {
	return &Client{
		ReadOnlyResults: make(map[string]*ledger.Value),
		Transactions:    make(map[string]*ledger.Transaction),
	}
}

// SetTransaction installs or replaces a transaction payload.
func (c *Client) SetTransaction(tx *ledger.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.TransactionID] = tx
}

// ReadOnlyCall returns the configured value for contract.function.
func (c *Client) ReadOnlyCall(_ context.Context, _, contractName, functionName string, _ []ledger.Value) (*ledger.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ReadErr != nil {
		return nil, c.ReadErr
	}

	key := fmt.Sprintf("%s.%s", contractName, functionName)
	val, ok := c.ReadOnlyResults[key]
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

// CallContract records the call and hands out the next queued tx id.
func (c *Client) CallContract(_ context.Context, call *ledger.ContractCall) (*ledger.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, call)

	if c.SubmitErr != nil {
		return nil, c.SubmitErr
	}
	if len(c.SubmitIDs) == 0 {
		return nil, errors.New("stub: no submit ids queued")
	}

	id := c.SubmitIDs[0]
	c.SubmitIDs = c.SubmitIDs[1:]
	return &ledger.SubmitResult{TransactionID: id}, nil
}

// GetTransaction returns the installed payload, or nil, nil when the
// ledger does not know the transaction yet.
func (c *Client) GetTransaction(_ context.Context, txID string) (*ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetTransactionCount++
	tx, ok := c.Transactions[txID]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

// Health returns HealthErr.
func (c *Client) Health(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HealthErr
}

// Compile-time interface check.
var _ ledger.Client = (*Client)(nil)
