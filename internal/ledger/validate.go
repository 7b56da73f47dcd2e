package ledger

import (
	"encoding/hex"
	"errors"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Validation errors.
var (
	ErrInvalidAddress       = errors.New("invalid wallet address")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
)

// ValidateAddress checks that a wallet address is a base58-encoded
// 32-byte ed25519 public key on the curve. Contract principals
// ("address.contract-name") validate the address part only.
func ValidateAddress(address string) error {
	if address == "" {
		return ErrInvalidAddress
	}

	if i := strings.IndexByte(address, '.'); i > 0 {
		address = address[:i]
	}

	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return ErrInvalidAddress
	}

	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return ErrInvalidAddress
	}

	return nil
}

// ValidateTransactionID checks that a transaction id is a 0x-prefixed
// 32-byte hex string.
func ValidateTransactionID(txID string) error {
	s := strings.TrimPrefix(txID, "0x")
	if len(s) != 64 {
		return ErrInvalidTransactionID
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ErrInvalidTransactionID
	}
	return nil
}
