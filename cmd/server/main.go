// Package main provides the unified exchange service:
// - Price sampler (continuous): fresh pool reads → price ticks
// - Event feed consumer (continuous): WebSocket → reconciler
// - Backfill (scheduled): repair of incomplete trade records
// - Read API: trades, price, history, leaderboard, position
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"curvedex/internal/aggregate"
	"curvedex/internal/domain"
	"curvedex/internal/ledger"
	"curvedex/internal/observability"
	"curvedex/internal/pricing"
	"curvedex/internal/reconcile"
	"curvedex/internal/storage"
	chstore "curvedex/internal/storage/clickhouse"
	"curvedex/internal/storage/memory"
	"curvedex/internal/storage/migrations"
	pgstore "curvedex/internal/storage/postgres"
	"curvedex/internal/swap"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	contractAddress  string
	contractName     string
	tokenAsset       string
	priceInterval    time.Duration
	backfillInterval time.Duration

	// Components
	client     ledger.Client
	source     swap.PoolSource
	reconciler *reconcile.Reconciler
	backfiller *reconcile.Backfiller
	aggregator *aggregate.Engine

	// Stores
	trades storage.TradeRecordStore
	ticks  storage.PriceTickStore

	metrics *observability.Metrics
	logger  *log.Logger
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("CURVEDEX_RPC_ENDPOINT"), "Ledger JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("CURVEDEX_WS_ENDPOINT"), "Ledger WebSocket endpoint (optional)")
	contract := flag.String("contract", os.Getenv("CURVEDEX_CONTRACT"), "Pool contract as address.name")
	tokenAsset := flag.String("token-asset", os.Getenv("CURVEDEX_TOKEN_ASSET"), "Asset identifier of the pool token")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	httpAddr := flag.String("http-addr", ":8080", "HTTP address for the read API and metrics")
	priceInterval := flag.Duration("price-interval", 30*time.Second, "Price sampling interval")
	backfillInterval := flag.Duration("backfill-interval", 5*time.Minute, "Backfill pass interval")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

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
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	trades, ticks, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("curvedex")
	client := ledger.NewHTTPClient(*rpcEndpoint)
	reconciler := reconcile.New(reconcile.Options{
		Store:      trades,
		TokenAsset: *tokenAsset,
		Logger:     log.New(os.Stdout, "[reconcile] ", log.LstdFlags),
	})

	server := &Server{
		contractAddress:  contractAddress,
		contractName:     contractName,
		tokenAsset:       *tokenAsset,
		priceInterval:    *priceInterval,
		backfillInterval: *backfillInterval,
		client:           client,
		source:           swap.NewLedgerPoolSource(client, contractAddress, contractName),
		reconciler:       reconciler,
		backfiller: reconcile.NewBackfiller(reconcile.BackfillOptions{
			Store:   trades,
			Client:  client,
			Deriver: reconciler,
			Logger:  log.New(os.Stdout, "[backfill] ", log.LstdFlags),
		}),
		aggregator: aggregate.New(trades),
		trades:     trades,
		ticks:      ticks,
		metrics:    metrics,
		logger:     logger,
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(*httpAddr)

	err = server.Run(ctx, *wsEndpoint)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
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

// createStores creates the trade and price-tick stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.TradeRecordStore, storage.PriceTickStore, func(), error) {
	if useMemory {
		return memory.NewTradeRecordStore(), memory.NewPriceTickStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return pgstore.NewTradeRecordStore(pool), chstore.NewPriceTickStore(chConn), cleanup, nil
}

// Run starts the continuous components and blocks until the context
// is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context, wsEndpoint string) error {
	s.logger.Println("Starting unified server...")

	errCh := make(chan error, 3)

	go func() {
		if err := s.runPriceSampler(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("price sampler: %w", err)
		}
	}()

	go s.runBackfill(ctx)

	if wsEndpoint != "" {
		go func() {
			if err := s.runFeedConsumer(ctx, wsEndpoint); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("feed consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runBackfill runs repair passes on a fixed interval and records
// their outcome.
func (s *Server) runBackfill(ctx context.Context) {
	s.logger.Printf("Starting backfill loop (interval: %v)...", s.backfillInterval)

	ticker := time.NewTicker(s.backfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.backfiller.Run(ctx)
			if err != nil {
				s.metrics.BackfillRuns.WithLabelValues("error").Inc()
				s.logger.Printf("Backfill pass failed: %v", err)
				continue
			}
			s.metrics.BackfillRuns.WithLabelValues("success").Inc()
			s.metrics.BackfillFieldsUpdated.Add(float64(result.Updated))
		}
	}
}

// runPriceSampler reads the pool on a fixed interval and appends a
// display tick. These ticks never back a pricing decision; every
// submission re-reads the pool itself.
func (s *Server) runPriceSampler(ctx context.Context) error {
	s.logger.Printf("Starting price sampler (interval: %v)...", s.priceInterval)

	ticker := time.NewTicker(s.priceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.samplePrice(ctx)
		}
	}
}

func (s *Server) samplePrice(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := s.source.ReadBalances(readCtx)
	if err != nil {
		s.metrics.PriceReadErrors.Inc()
		s.logger.Printf("Price read failed: %v", err)
		return
	}
	price, err := pricing.CurrentPrice(pool)
	if err != nil {
		s.logger.Printf("Price computation failed: %v", err)
		return
	}

	s.metrics.CurrentPrice.Set(price)
	s.metrics.PoolSbtcBalance.Set(float64(pool.SbtcBalance))

	tick := &domain.PriceTick{
		Price:        price,
		SbtcBalance:  pool.SbtcBalance,
		TokenBalance: pool.TokenBalance,
		ObservedAt:   pool.ObservedAt.UnixMilli(),
	}
	if err := s.ticks.Insert(readCtx, tick); err != nil {
		s.logger.Printf("Tick insert failed: %v", err)
	}
}

// runFeedConsumer reconciles transactions pushed over the WebSocket
// feed. Feed statuses are advisory: every terminal update triggers a
// direct lookup and the lookup's payload is what gets reconciled.
func (s *Server) runFeedConsumer(ctx context.Context, wsEndpoint string) error {
	contractID := s.contractAddress + "." + s.contractName
	feed, err := ledger.NewWSFeed(ctx, wsEndpoint, contractID, nil)
	if err != nil {
		return fmt.Errorf("create websocket feed: %w", err)
	}
	defer feed.Close()

	s.logger.Printf("Consuming event feed for %s", contractID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-feed.Updates():
			if !ok {
				return fmt.Errorf("event feed closed")
			}
			if !ledger.TerminalStatus(update.Status) {
				continue
			}
			s.reconcileUpdate(ctx, update.TransactionID)
		}
	}
}

func (s *Server) reconcileUpdate(ctx context.Context, txID string) {
	lookupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := s.client.GetTransaction(lookupCtx, txID)
	if err != nil {
		s.logger.Printf("Lookup tx %s: %v", txID, err)
		return
	}
	if tx == nil || tx.Status != ledger.StatusSuccess {
		return
	}
	record, err := s.reconciler.Reconcile(lookupCtx, tx)
	if err != nil {
		s.logger.Printf("Reconcile tx %s: %v", txID, err)
		return
	}
	if record != nil {
		s.metrics.TradeRecordsInserted.WithLabelValues(record.AmountConfidence).Inc()
		if record.AmountConfidence == domain.ConfidenceDeclared {
			s.metrics.LowConfidenceRecords.Inc()
		}
	}
}

// startHTTPServer serves the read API, health check, and metrics.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/price", s.handlePrice)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/position", s.handlePosition)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.client.Health(ctx); err != nil {
		http.Error(w, fmt.Sprintf("ledger unreachable: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleTrades returns trade records for an address, optionally
// windowed by days.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	days := queryInt(r, "days", 0)

	var since int64
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days).Unix()
	}

	records, err := s.trades.GetByWallet(r.Context(), address, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// PriceResponse is the JSON response for /api/price.
type PriceResponse struct {
	Price        float64 `json:"price"`
	SbtcBalance  int64   `json:"sbtc_balance"`
	TokenBalance int64   `json:"token_balance"`
	ObservedAt   int64   `json:"observed_at_ms"`
}

// handlePrice serves a fresh pool read, never a cached tick.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pool, err := s.source.ReadBalances(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	price, err := pricing.CurrentPrice(pool)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, PriceResponse{
		Price:        price,
		SbtcBalance:  pool.SbtcBalance,
		TokenBalance: pool.TokenBalance,
		ObservedAt:   pool.ObservedAt.UnixMilli(),
	})
}

// handleHistory serves stored price ticks.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 60)
	sinceMs := time.Now().Add(-time.Duration(minutes) * time.Minute).UnixMilli()

	ticks, err := s.ticks.GetSince(r.Context(), sinceMs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ticks)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	if view == "" {
		view = domain.LeaderboardPerformers
	}
	days := queryInt(r, "days", 0)

	entries, err := s.aggregator.Leaderboard(r.Context(), view, days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	days := queryInt(r, "days", 0)

	pos, err := s.aggregator.ComputePosition(r.Context(), address, days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, pos)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
