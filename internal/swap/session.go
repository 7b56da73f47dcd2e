package swap

import "sync"

// Session carries the per-client mutable swap state that used to be
// global: the last-submitted transaction marker and the in-flight
// flag. The caller owns the session and passes it into every Execute.
type Session struct {
	mu sync.Mutex

	// WalletAddress identifies the account behind this session.
	WalletAddress string

	// lastTransactionID is the marker compared against every newly
	// assigned transaction id to catch stale re-submissions.
	lastTransactionID string

	// inFlight is set between submission and terminal status. A
	// second Execute on the same session fails fast while it is set.
	inFlight bool
}

// NewSession creates a session for a wallet.
func NewSession(walletAddress string) *Session {
	return &Session{WalletAddress: walletAddress}
}

// LastTransactionID returns the marker from the previous submission.
func (s *Session) LastTransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTransactionID
}

// begin marks the session in-flight. Returns false when a swap is
// already running.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// finish clears the in-flight flag.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

// markSubmitted records the assigned transaction id. Returns false
// when the id matches the previous marker, which means the ledger
// handed back a stale duplicate.
func (s *Session) markSubmitted(txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txID != "" && txID == s.lastTransactionID {
		return false
	}
	s.lastTransactionID = txID
	return true
}
