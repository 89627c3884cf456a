package claim

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vbmsd/native/ledger"
)

// NonceID aliases the ledger nonce type so callers of this package do not need
// both imports.
type NonceID = ledger.NonceID

// NewNonceID mints a fresh 32-byte nonce from two v4 UUIDs. The concatenated
// hex of both UUIDs is exactly 64 characters, which keeps the wire form
// compatible with the claim contract's bytes32 parameter.
func NewNonceID() (NonceID, error) {
	var nonce NonceID
	first, err := uuid.NewRandom()
	if err != nil {
		return nonce, fmt.Errorf("claim: nonce generation: %w", err)
	}
	second, err := uuid.NewRandom()
	if err != nil {
		return nonce, fmt.Errorf("claim: nonce generation: %w", err)
	}
	raw := strings.ReplaceAll(first.String(), "-", "") + strings.ReplaceAll(second.String(), "-", "")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nonce, fmt.Errorf("claim: nonce generation: %w", err)
	}
	copy(nonce[:], decoded)
	return nonce, nil
}
