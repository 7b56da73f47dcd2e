package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures the WebSocket event feed.
type WSConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// TxUpdate is a transaction status notification from the event feed.
// Feed-derived statuses are advisory: a direct GetTransaction lookup
// always wins on conflict.
type TxUpdate struct {
	TransactionID string `json:"tx_id"`
	Status        string `json:"tx_status"`
	ContractID    string `json:"contract_id"`
}

// WSFeed subscribes to transaction updates for a contract over
// WebSocket using gorilla/websocket.
type WSFeed struct {
	endpoint   string
	contractID string
	config     WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	updates chan TxUpdate
	done    chan struct{}
	wg      sync.WaitGroup
}

// wsMessage is the envelope for feed messages.
type wsMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// NewWSFeed connects to the endpoint and subscribes to transaction
// updates touching contractID.
func NewWSFeed(ctx context.Context, endpoint, contractID string, config *WSConfig) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	f := &WSFeed{
		endpoint:   endpoint,
		contractID: contractID,
		config:     cfg,
		updates:    make(chan TxUpdate, 256),
		done:       make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// Updates returns the channel of transaction status notifications.
func (f *WSFeed) Updates() <-chan TxUpdate {
	return f.updates
}

// connect dials the endpoint and sends the subscription request.
func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.config.WriteTimeout}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.endpoint, err)
	}

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      f.requestID.Add(1),
		"method":  "subscribe",
		"params": map[string]string{
			"event":       "tx_update",
			"contract_id": f.contractID,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	return nil
}

// readLoop reads messages and forwards transaction updates, handling
// reconnects with capped backoff.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			if !f.reconnect() {
				return
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[ledger-ws] malformed message: %v", err)
			continue
		}
		if msg.Method != "tx_update" {
			continue
		}

		var update TxUpdate
		if err := json.Unmarshal(msg.Params, &update); err != nil {
			log.Printf("[ledger-ws] malformed tx_update: %v", err)
			continue
		}

		select {
		case f.updates <- update:
		default:
			// Slow consumer; updates are advisory, dropping is safe
			// because the poll loop re-checks with GetTransaction.
		}
	}
}

// reconnect re-dials with capped backoff until success or shutdown.
// Returns false when the feed is closed.
func (f *WSFeed) reconnect() bool {
	delay := f.config.ReconnectDelay

	for {
		select {
		case <-f.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), f.config.WriteTimeout)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			log.Printf("[ledger-ws] reconnected to %s", f.endpoint)
			return true
		}

		log.Printf("[ledger-ws] reconnect failed: %v", err)
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()

			conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil && !f.closed.Load() {
				log.Printf("[ledger-ws] ping failed: %v", err)
			}
		}
	}
}

// Close shuts down the feed and closes the update channel.
func (f *WSFeed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	err := f.conn.Close()
	f.connMu.Unlock()

	f.wg.Wait()
	close(f.updates)
	return err
}
