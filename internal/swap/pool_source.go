package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curvedex/internal/domain"
	"curvedex/internal/ledger"
)

// PoolSource is the capability the orchestrator needs from a pool
// backend. Variants (live ledger, replay, test stub) are just
// different implementations.
type PoolSource interface {
	// ReadBalances returns a fresh pool snapshot.
	ReadBalances(ctx context.Context) (*domain.PoolState, error)

	// AccountTokenBalance returns the reported token balance for an
	// account, in base units.
	AccountTokenBalance(ctx context.Context, address string) (int64, error)

	// Submit dispatches a state-changing call and returns the
	// assigned transaction id.
	Submit(ctx context.Context, call *ledger.ContractCall) (string, error)

	// PollStatus looks up a transaction by id. Returns nil, nil when
	// the ledger does not know the transaction yet.
	PollStatus(ctx context.Context, txID string) (*ledger.Transaction, error)

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error
}

// Contract read-only entry points.
const (
	functionPoolInfo = "get-pool-info"
	functionBalance  = "get-balance"
)

// poolInfo is the wire shape of the get-pool-info result.
type poolInfo struct {
	SbtcBalance      int64 `json:"sbtc_balance"`
	TokenBalance     int64 `json:"token_balance"`
	LockedTokens     int64 `json:"locked_tokens"`
	VirtualLiquidity int64 `json:"virtual_liquidity"`
}

// LedgerPoolSource implements PoolSource against a live ledger client.
type LedgerPoolSource struct {
	client          ledger.Client
	contractAddress string
	contractName    string
}

var _ PoolSource = (*LedgerPoolSource)(nil)

// NewLedgerPoolSource creates a PoolSource backed by a ledger client.
func NewLedgerPoolSource(client ledger.Client, contractAddress, contractName string) *LedgerPoolSource {
	return &LedgerPoolSource{
		client:          client,
		contractAddress: contractAddress,
		contractName:    contractName,
	}
}

// ReadBalances reads the pool contract's balances. The snapshot is
// stamped at read time so callers can enforce pricing freshness.
func (s *LedgerPoolSource) ReadBalances(ctx context.Context) (*domain.PoolState, error) {
	val, err := s.client.ReadOnlyCall(ctx, s.contractAddress, s.contractName, functionPoolInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("read pool info: %w", err)
	}

	var info poolInfo
	if err := val.UnmarshalInto(&info); err != nil {
		return nil, fmt.Errorf("decode pool info: %w", err)
	}

	return &domain.PoolState{
		SbtcBalance:      info.SbtcBalance,
		TokenBalance:     info.TokenBalance,
		LockedTokens:     info.LockedTokens,
		VirtualLiquidity: info.VirtualLiquidity,
		ObservedAt:       time.Now(),
	}, nil
}

// AccountTokenBalance reads the reported token balance of an account.
func (s *LedgerPoolSource) AccountTokenBalance(ctx context.Context, address string) (int64, error) {
	arg, err := json.Marshal(address)
	if err != nil {
		return 0, fmt.Errorf("encode address: %w", err)
	}

	val, err := s.client.ReadOnlyCall(ctx, s.contractAddress, s.contractName, functionBalance, []ledger.Value{{Raw: arg}})
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	var balance int64
	if err := val.UnmarshalInto(&balance); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return balance, nil
}

// Submit dispatches the contract call.
func (s *LedgerPoolSource) Submit(ctx context.Context, call *ledger.ContractCall) (string, error) {
	result, err := s.client.CallContract(ctx, call)
	if err != nil {
		return "", err
	}
	return result.TransactionID, nil
}

// PollStatus looks up a transaction by id.
func (s *LedgerPoolSource) PollStatus(ctx context.Context, txID string) (*ledger.Transaction, error) {
	return s.client.GetTransaction(ctx, txID)
}

// Health pings the ledger endpoint.
func (s *LedgerPoolSource) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
