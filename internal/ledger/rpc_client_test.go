package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "get_transaction" {
			t.Errorf("expected method get_transaction, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"tx_id":         "0xabc123",
				"tx_status":     "success",
				"block_height":  int64(4321),
				"block_time":    int64(1700000000),
				"sender_address": "senderaddr",
				"fee_rate":      "180",
				"function_name": "buy-tokens",
				"events": []map[string]interface{}{
					{
						"type":      "ft_transfer_event",
						"asset":     "pool-token",
						"amount":    "490",
						"sender":    "pool",
						"recipient": "senderaddr",
					},
				},
				"tx_result": json.RawMessage(`{"sats":1000,"tokens":490}`),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "0xabc123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if tx.Status != StatusSuccess {
		t.Errorf("expected status success, got %s", tx.Status)
	}
	if tx.BlockTime != 1700000000 {
		t.Errorf("expected block time 1700000000, got %d", tx.BlockTime)
	}
	if tx.Fee != 180 {
		t.Errorf("expected fee 180, got %d", tx.Fee)
	}
	if len(tx.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(tx.Events))
	}
	if tx.Events[0].Amount != 490 {
		t.Errorf("expected event amount 490, got %d", tx.Events[0].Amount)
	}
	if tx.Result == nil {
		t.Fatal("expected result, got nil")
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	tx, err := client.GetTransaction(context.Background(), "0xmissing")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for unknown transaction, got %+v", tx)
	}
}

func TestHTTPClient_CallContract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "call_contract" {
			t.Errorf("expected method call_contract, got %s", req.Method)
		}

		payload, _ := json.Marshal(req.Params[0])
		var call map[string]interface{}
		json.Unmarshal(payload, &call)
		if call["guard_mode"] != GuardModeDeny {
			t.Errorf("expected guard_mode deny, got %v", call["guard_mode"])
		}
		conditions, _ := call["guard_conditions"].([]interface{})
		if len(conditions) != 2 {
			t.Errorf("expected 2 guard conditions, got %d", len(conditions))
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]string{"txid": "0xnewtx"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	result, err := client.CallContract(context.Background(), &ContractCall{
		ContractAddress: "pooladdr",
		ContractName:    "curve-pool",
		FunctionName:    "buy-tokens",
		Sender:          "senderaddr",
		GuardMode:       GuardModeDeny,
		GuardConditions: []GuardCondition{
			{Principal: "senderaddr", Code: CodeSendsEq, Amount: 1000},
			{Principal: "pooladdr.curve-pool", Code: CodeSendsGte, Asset: "pool-token", Amount: 475},
		},
	})
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if result.TransactionID != "0xnewtx" {
		t.Errorf("expected txid 0xnewtx, got %s", result.TransactionID)
	}
}

func TestHTTPClient_RetriesConnectivityFailure(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"tx_id": "0xabc", "tx_status": "pending"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryStep(5*time.Millisecond))

	tx, err := client.GetTransaction(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetTransaction after retries: %v", err)
	}
	if tx == nil || tx.Status != StatusPending {
		t.Errorf("expected pending transaction, got %+v", tx)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestHTTPClient_RetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryStep(time.Millisecond))

	_, err := client.GetTransaction(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	// initial attempt + 2 retries
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32000, "message": "transaction rejected"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryStep(time.Millisecond))

	_, err := client.CallContract(context.Background(), &ContractCall{FunctionName: "buy-tokens"})
	if err == nil {
		t.Fatal("expected RPC error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("RPC error must not be retried: %d attempts", got)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"pong"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}

	server.Close()
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected health failure after server close")
	}
}
