package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryStep     = 1 * time.Second
	DefaultMaxDelay      = 3 * time.Second
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint      string
	client        *http.Client
	maxRetries    int
	retryStep     time.Duration
	maxDelay      time.Duration
	healthTimeout time.Duration
	requestID     atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryStep sets the fixed backoff step between retries.
func WithRetryStep(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryStep = d
	}
}

// WithHealthTimeout sets the health pre-check timeout.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.healthTimeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: DefaultTimeout},
		maxRetries:    DefaultMaxRetries,
		retryStep:     DefaultRetryStep,
		maxDelay:      DefaultMaxDelay,
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// codeUserRejected is the wallet bridge's code for a user-cancelled
// signing prompt.
const codeUserRejected = 4001

// call performs a JSON-RPC call with bounded retries and a fixed-step
// backoff (step, 2*step, 3*step, ...) capped at maxDelay.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryStep
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			if rpcResp.Error.Code == codeUserRejected {
				return fmt.Errorf("%w: %s", ErrUserRejected, rpcResp.Error.Message)
			}
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ReadOnlyCall evaluates a read-only contract function.
func (c *HTTPClient) ReadOnlyCall(ctx context.Context, contractAddress, contractName, functionName string, args []Value) (*Value, error) {
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		rawArgs[i] = a.Raw
	}

	params := []interface{}{
		map[string]interface{}{
			"contract_address": contractAddress,
			"contract_name":    contractName,
			"function_name":    functionName,
			"arguments":        rawArgs,
		},
	}

	var result json.RawMessage
	if err := c.call(ctx, "call_read_only", params, &result); err != nil {
		return nil, err
	}

	return &Value{Raw: result}, nil
}

// CallContract dispatches a state-changing contract call.
func (c *HTTPClient) CallContract(ctx context.Context, call *ContractCall) (*SubmitResult, error) {
	rawArgs := make([]json.RawMessage, len(call.Args))
	for i, a := range call.Args {
		rawArgs[i] = a.Raw
	}

	guardMode := call.GuardMode
	if guardMode == "" {
		guardMode = GuardModeAllow
	}

	params := []interface{}{
		map[string]interface{}{
			"contract_address": call.ContractAddress,
			"contract_name":    call.ContractName,
			"function_name":    call.FunctionName,
			"arguments":        rawArgs,
			"sender":           call.Sender,
			"guard_conditions": call.GuardConditions,
			"guard_mode":       guardMode,
		},
	}

	var result SubmitResult
	if err := c.call(ctx, "call_contract", params, &result); err != nil {
		return nil, err
	}

	if result.TransactionID == "" {
		return nil, fmt.Errorf("ledger returned empty transaction id")
	}

	return &result, nil
}

// GetTransaction retrieves a transaction by id. Returns nil, nil when
// the ledger does not know the transaction yet.
func (c *HTTPClient) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	params := []interface{}{txID}

	var result Transaction
	if err := c.call(ctx, "get_transaction", params, &result); err != nil {
		return nil, err
	}

	if result.TransactionID == "" && result.Status == "" {
		// Transaction not found
		return nil, nil
	}

	return &result, nil
}

// Health verifies the endpoint answers within the health timeout.
// Performed before submission when connectivity is suspect.
func (c *HTTPClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: reqID, Method: "ping"})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: unexpected status %d", resp.StatusCode)
	}

	return nil
}
