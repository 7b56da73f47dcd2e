// Package main provides a one-shot swap submission CLI. It prices the
// order against a fresh pool read, submits it with optional slippage
// protection, and waits for the transaction to reach a terminal state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"curvedex/internal/ledger"
	"curvedex/internal/reconcile"
	"curvedex/internal/storage/memory"
	"curvedex/internal/swap"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("CURVEDEX_RPC_ENDPOINT"), "Ledger JSON-RPC HTTP endpoint")
	contract := flag.String("contract", os.Getenv("CURVEDEX_CONTRACT"), "Pool contract as address.name")
	tokenAsset := flag.String("token-asset", os.Getenv("CURVEDEX_TOKEN_ASSET"), "Asset identifier of the pool token")
	wallet := flag.String("wallet", os.Getenv("CURVEDEX_WALLET"), "Sender wallet address")
	direction := flag.String("direction", "", "Swap direction: buy or sell")
	amount := flag.Int64("amount", 0, "Input amount: sats for buy, token base units for sell")
	slippage := flag.Float64("slippage", 1.0, "Slippage tolerance in percent")
	noGuard := flag.Bool("no-guard", false, "Submit without slippage protection")
	pollTimeout := flag.Duration("poll-timeout", swap.DefaultPollTimeout, "Confirmation wait budget")

	flag.Parse()

	logger := log.New(os.Stdout, "[trade] ", log.LstdFlags)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	contractAddress, contractName, err := splitContract(*contract)
	if err != nil {
		logger.Fatalf("--contract: %v", err)
	}
	if *tokenAsset == "" {
		logger.Fatal("--token-asset is required")
	}
	if err := ledger.ValidateAddress(*wallet); err != nil {
		logger.Fatalf("--wallet: %v", err)
	}

	order := swap.Order{
		Direction:   *direction,
		InputAmount: *amount,
	}
	if !*noGuard {
		order.SlippageTolerance = slippage
	}

	client := ledger.NewHTTPClient(*rpcEndpoint)
	store := memory.NewTradeRecordStore()

	orch := swap.New(swap.Options{
		Source:          swap.NewLedgerPoolSource(client, contractAddress, contractName),
		ContractAddress: contractAddress,
		ContractName:    contractName,
		TokenAsset:      *tokenAsset,
		Reconciler: reconcile.New(reconcile.Options{
			Store:      store,
			TokenAsset: *tokenAsset,
			Logger:     logger,
		}),
		Observers:   []swap.Observer{&swap.LogObserver{Logger: logger}},
		PollTimeout: *pollTimeout,
		Logger:      logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *pollTimeout+30*time.Second)
	defer cancel()

	sess := swap.NewSession(*wallet)
	outcome, err := orch.Execute(ctx, sess, order)
	if err != nil {
		report(logger, outcome, err)
		os.Exit(1)
	}

	fmt.Printf("state:     %s\n", outcome.State)
	fmt.Printf("tx:        %s\n", outcome.TransactionID)
	fmt.Printf("price:     %g\n", outcome.PriceAtSubmit)
	fmt.Printf("estimated: %d\n", outcome.EstimatedOutput)
	if outcome.Plan != nil && outcome.Plan.Protected {
		fmt.Printf("min out:   %d (boundary price %g)\n",
			outcome.Plan.MinAcceptableOutput, outcome.Plan.BoundaryPrice)
	}
	if outcome.State == swap.StateFailed {
		fmt.Printf("ledger:    %s\n", outcome.LedgerStatus)
		os.Exit(1)
	}
	if outcome.Record != nil && outcome.Record.ExecutionPrice != nil {
		fmt.Printf("executed:  %g sats/token\n", *outcome.Record.ExecutionPrice)
	}
}

// report explains the failure in terms the caller can act on.
func report(logger *log.Logger, outcome *swap.Outcome, err error) {
	switch {
	case errors.Is(err, swap.ErrInvalidInput):
		logger.Printf("rejected: %v", err)
	case errors.Is(err, swap.ErrNetworkUnavailable):
		logger.Printf("ledger unreachable, try again later: %v", err)
	case errors.Is(err, swap.ErrDuplicateSubmission):
		logger.Printf("stale duplicate caught, refresh before retrying: %v", err)
	case errors.Is(err, swap.ErrConfirmationTimeout):
		txID := ""
		if outcome != nil {
			txID = outcome.TransactionID
		}
		logger.Printf("no confirmation within budget; tx %s may still confirm on its own", txID)
	default:
		logger.Printf("swap failed: %v", err)
	}
}

// splitContract parses "address.name" into its two parts.
func splitContract(contract string) (string, string, error) {
	if contract == "" {
		return "", "", fmt.Errorf("contract is required")
	}
	parts := strings.SplitN(contract, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected address.name, got %q", contract)
	}
	return parts[0], parts[1], nil
}
