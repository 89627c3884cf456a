package events

import (
	"math/big"
	"strconv"
	"strings"

	"vbmsd/core/types"
)

const (
	// TypeClaimPending is emitted when a conversion is initiated and the
	// balance debited.
	TypeClaimPending = "claim.pending"
	// TypeClaimFinalized is emitted when an on-chain transaction hash is
	// accepted and the claim completes.
	TypeClaimFinalized = "claim.finalized"
	// TypeClaimAutoRestored is emitted when a stale pending conversion is
	// refunded because the nonce never reached the chain.
	TypeClaimAutoRestored = "claim.auto_restored"
	// TypeClaimRecovered is emitted when a player-requested recovery refunds
	// a pending conversion.
	TypeClaimRecovered = "claim.recovered"
	// TypeClaimBlocked is emitted when a recovery is denied because the
	// nonce was already consumed on-chain.
	TypeClaimBlocked = "claim.blocked"
)

type ClaimPending struct {
	Address   [20]byte
	Amount    *big.Int
	Nonce     string
	Timestamp int64
}

func (ClaimPending) EventType() string { return TypeClaimPending }

func (e ClaimPending) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimPending,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"nonce":     strings.TrimSpace(e.Nonce),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type ClaimFinalized struct {
	Address   [20]byte
	Amount    *big.Int
	Nonce     string
	TxHash    string
	Timestamp int64
}

func (ClaimFinalized) EventType() string { return TypeClaimFinalized }

func (e ClaimFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimFinalized,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"nonce":     strings.TrimSpace(e.Nonce),
			"txHash":    strings.TrimSpace(e.TxHash),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type ClaimAutoRestored struct {
	Address   [20]byte
	Amount    *big.Int
	Nonce     string
	Timestamp int64
}

func (ClaimAutoRestored) EventType() string { return TypeClaimAutoRestored }

func (e ClaimAutoRestored) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimAutoRestored,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"nonce":     strings.TrimSpace(e.Nonce),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type ClaimRecovered struct {
	Address   [20]byte
	Amount    *big.Int
	Nonce     string
	Remaining uint32
	Timestamp int64
}

func (ClaimRecovered) EventType() string { return TypeClaimRecovered }

func (e ClaimRecovered) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimRecovered,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"nonce":     strings.TrimSpace(e.Nonce),
			"remaining": strconv.FormatUint(uint64(e.Remaining), 10),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type ClaimBlocked struct {
	Address   [20]byte
	Amount    *big.Int
	Nonce     string
	Reason    string
	Timestamp int64
}

func (ClaimBlocked) EventType() string { return TypeClaimBlocked }

func (e ClaimBlocked) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimBlocked,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"nonce":     strings.TrimSpace(e.Nonce),
			"reason":    strings.TrimSpace(e.Reason),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}
