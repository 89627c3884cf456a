package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// NonceID is the 256-bit identifier minted for every conversion attempt. It is
// embedded in the signed claim message and in the on-chain transaction, making
// it the only reliable handle for asking the chain whether a specific claim
// ever executed.
type NonceID [32]byte

// Hex renders the nonce in the canonical 0x-prefixed form used on the wire.
func (n NonceID) Hex() string {
	return "0x" + hex.EncodeToString(n[:])
}

// IsZero reports whether the nonce carries no entropy.
func (n NonceID) IsZero() bool {
	return n == (NonceID{})
}

// ParseNonceID decodes a 0x-prefixed 64-character hex nonce.
func ParseNonceID(value string) (NonceID, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	var nonce NonceID
	if len(trimmed) != 64 {
		return nonce, fmt.Errorf("ledger: nonce must be 32 bytes, got %d hex chars", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nonce, fmt.Errorf("ledger: invalid nonce encoding: %w", err)
	}
	copy(nonce[:], decoded)
	return nonce, nil
}

// ConversionStatus enumerates the states of the per-account conversion slot.
type ConversionStatus uint8

const (
	// ConversionIdle means no conversion is outstanding.
	ConversionIdle ConversionStatus = iota
	// ConversionPending means the balance was debited and the claim is in
	// flight; only the finalizer or the recovery engine may resolve it.
	ConversionPending
)

// Valid reports whether the status value is within the supported range.
func (s ConversionStatus) Valid() bool {
	switch s {
	case ConversionIdle, ConversionPending:
		return true
	default:
		return false
	}
}

// ConversionState carries the pending-conversion slot as a single value so the
// amount, nonce, and timestamp can never drift apart. The constructors are the
// only supported way to build one.
type ConversionState struct {
	Status ConversionStatus
	Amount *big.Int
	Nonce  NonceID
	Since  int64
}

// IdleConversion returns the zero slot.
func IdleConversion() ConversionState {
	return ConversionState{Status: ConversionIdle, Amount: big.NewInt(0)}
}

// PendingConversion builds a populated slot for a freshly debited claim.
func PendingConversion(amount *big.Int, nonce NonceID, since int64) ConversionState {
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	return ConversionState{Status: ConversionPending, Amount: amt, Nonce: nonce, Since: since}
}

// Pending reports whether a conversion is outstanding.
func (c ConversionState) Pending() bool {
	return c.Status == ConversionPending
}

// Clone returns a deep copy of the slot.
func (c ConversionState) Clone() ConversionState {
	clone := c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

// Account is the authoritative balance record for a single player address.
type Account struct {
	Address               [20]byte
	Balance               *big.Int
	LifetimeEarned        *big.Int
	LifetimeSpent         *big.Int
	ClaimedTokens         *big.Int
	FID                   uint64
	LastClaim             int64
	LastConversionAttempt int64
	RecoveryCount         uint32
	RecoveryDay           string
	Conversion            ConversionState
}

// Clone returns a deep copy so callers can safely mutate the result without
// affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Balance = cloneBigInt(a.Balance)
	clone.LifetimeEarned = cloneBigInt(a.LifetimeEarned)
	clone.LifetimeSpent = cloneBigInt(a.LifetimeSpent)
	clone.ClaimedTokens = cloneBigInt(a.ClaimedTokens)
	clone.Conversion = a.Conversion.Clone()
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *Account) *Account {
	if acc == nil {
		acc = &Account{}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	if acc.LifetimeEarned == nil {
		acc.LifetimeEarned = big.NewInt(0)
	}
	if acc.LifetimeSpent == nil {
		acc.LifetimeSpent = big.NewInt(0)
	}
	if acc.ClaimedTokens == nil {
		acc.ClaimedTokens = big.NewInt(0)
	}
	if acc.Conversion.Amount == nil {
		acc.Conversion.Amount = big.NewInt(0)
	}
	return acc
}

// DecodeAddress canonicalises a 0x-prefixed EVM address. Addresses are
// lower-cased before use so the same player always maps to the same record.
func DecodeAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if !ethcommon.IsHexAddress(trimmed) {
		return addr, fmt.Errorf("ledger: invalid address %q", value)
	}
	copy(addr[:], ethcommon.HexToAddress(trimmed).Bytes())
	return addr, nil
}

// FormatAddress renders the canonical lower-case hex form of an address.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

type storedConversion struct {
	Status uint8
	Amount string
	Nonce  [32]byte
	Since  uint64
}

type storedAccount struct {
	Balance               string
	LifetimeEarned        string
	LifetimeSpent         string
	ClaimedTokens         string
	FID                   uint64
	LastClaim             uint64
	LastConversionAttempt uint64
	RecoveryCount         uint32
	RecoveryDay           string
	Conversion            storedConversion
}

func toStoredAccount(acc *Account) storedAccount {
	stored := storedAccount{}
	if acc == nil {
		return stored
	}
	stored.Balance = bigIntToString(acc.Balance)
	stored.LifetimeEarned = bigIntToString(acc.LifetimeEarned)
	stored.LifetimeSpent = bigIntToString(acc.LifetimeSpent)
	stored.ClaimedTokens = bigIntToString(acc.ClaimedTokens)
	stored.FID = acc.FID
	if acc.LastClaim > 0 {
		stored.LastClaim = uint64(acc.LastClaim)
	}
	if acc.LastConversionAttempt > 0 {
		stored.LastConversionAttempt = uint64(acc.LastConversionAttempt)
	}
	stored.RecoveryCount = acc.RecoveryCount
	stored.RecoveryDay = strings.TrimSpace(acc.RecoveryDay)
	stored.Conversion = storedConversion{
		Status: uint8(acc.Conversion.Status),
		Amount: bigIntToString(acc.Conversion.Amount),
		Nonce:  acc.Conversion.Nonce,
	}
	if acc.Conversion.Since > 0 {
		stored.Conversion.Since = uint64(acc.Conversion.Since)
	}
	return stored
}

func fromStoredAccount(addr [20]byte, stored *storedAccount) (*Account, error) {
	if stored == nil {
		return nil, fmt.Errorf("ledger: nil stored account")
	}
	balance, err := parseBigInt(stored.Balance)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid balance: %w", err)
	}
	earned, err := parseBigInt(stored.LifetimeEarned)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid lifetime earned: %w", err)
	}
	spent, err := parseBigInt(stored.LifetimeSpent)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid lifetime spent: %w", err)
	}
	claimed, err := parseBigInt(stored.ClaimedTokens)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid claimed tokens: %w", err)
	}
	pending, err := parseBigInt(stored.Conversion.Amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid pending amount: %w", err)
	}
	status := ConversionStatus(stored.Conversion.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("ledger: invalid conversion status %d", stored.Conversion.Status)
	}
	acc := &Account{
		Address:        addr,
		Balance:        balance,
		LifetimeEarned: earned,
		LifetimeSpent:  spent,
		ClaimedTokens:  claimed,
		FID:            stored.FID,
		RecoveryCount:  stored.RecoveryCount,
		RecoveryDay:    stored.RecoveryDay,
		Conversion: ConversionState{
			Status: status,
			Amount: pending,
			Nonce:  stored.Conversion.Nonce,
		},
	}
	if stored.LastClaim > 0 {
		acc.LastClaim = int64(stored.LastClaim)
	}
	if stored.LastConversionAttempt > 0 {
		acc.LastConversionAttempt = int64(stored.LastConversionAttempt)
	}
	if stored.Conversion.Since > 0 {
		acc.Conversion.Since = int64(stored.Conversion.Since)
	}
	return acc, nil
}

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed, nil
}
