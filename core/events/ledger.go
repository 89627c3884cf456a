package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"vbmsd/core/types"
)

const (
	// TypeLedgerCredited is emitted when gameplay grants coins to an account.
	TypeLedgerCredited = "ledger.credited"
	// TypeLedgerDebited is emitted when coins are consumed in-game.
	TypeLedgerDebited = "ledger.debited"
)

type LedgerCredited struct {
	Address   [20]byte
	Amount    *big.Int
	Balance   *big.Int
	Source    string
	Timestamp int64
}

func (LedgerCredited) EventType() string { return TypeLedgerCredited }

func (e LedgerCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerCredited,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"balance":   formatAmount(e.Balance),
			"source":    strings.TrimSpace(e.Source),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type LedgerDebited struct {
	Address   [20]byte
	Amount    *big.Int
	Balance   *big.Int
	Source    string
	Timestamp int64
}

func (LedgerDebited) EventType() string { return TypeLedgerDebited }

func (e LedgerDebited) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerDebited,
		Attributes: map[string]string{
			"address":   formatAddress(e.Address),
			"amount":    formatAmount(e.Amount),
			"balance":   formatAmount(e.Balance),
			"source":    strings.TrimSpace(e.Source),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
