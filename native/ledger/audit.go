package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// AuditType labels a balance movement in the append-only audit log.
type AuditType string

const (
	// AuditEarn records coins granted by gameplay or bonuses.
	AuditEarn AuditType = "earn"
	// AuditSpend records coins consumed by in-game purchases.
	AuditSpend AuditType = "spend"
	// AuditConvert records the debit performed when a claim is initiated.
	AuditConvert AuditType = "convert"
	// AuditClaim records a finalized on-chain claim.
	AuditClaim AuditType = "claim"
	// AuditRecover records a refund of a failed conversion.
	AuditRecover AuditType = "recover"
)

// Valid reports whether the type is one of the supported labels.
func (t AuditType) Valid() bool {
	switch t {
	case AuditEarn, AuditSpend, AuditConvert, AuditClaim, AuditRecover:
		return true
	default:
		return false
	}
}

// AuditEntry is a single immutable row of the per-address audit trail. Amount
// is signed: positive for credits, negative for debits.
type AuditEntry struct {
	Address       [20]byte
	Type          AuditType
	Amount        *big.Int
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
	Source        string
	SourceID      string
	TxHash        string
	Nonce         string
	Reason        string
	Timestamp     int64
}

type storedAuditEntry struct {
	// Seq is a per-address monotonic counter. Two movements with identical
	// fields (same amount, same second) must still land as distinct rows.
	Seq           uint64
	Type          string
	Amount        string
	BalanceBefore string
	BalanceAfter  string
	Source        string
	SourceID      string
	TxHash        string
	Nonce         string
	Reason        string
	Timestamp     uint64
}

var auditPrefix = []byte("ledger/audit/")

func auditKey(addr [20]byte) []byte {
	return append(append([]byte(nil), auditPrefix...), addr[:]...)
}

// AppendAudit writes an entry onto the address's audit trail. Entries are never
// rewritten or removed.
func (l *Ledger) AppendAudit(entry AuditEntry) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("ledger: storage not initialised")
	}
	if !entry.Type.Valid() {
		return fmt.Errorf("ledger: invalid audit type %q", entry.Type)
	}
	if entry.Timestamp <= 0 {
		entry.Timestamp = l.now().Unix()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var existing [][]byte
	if err := l.store.KVGetList(auditKey(entry.Address), &existing); err != nil {
		return err
	}
	stored := storedAuditEntry{
		Seq:           uint64(len(existing)) + 1,
		Type:          string(entry.Type),
		Amount:        bigIntToString(entry.Amount),
		BalanceBefore: bigIntToString(entry.BalanceBefore),
		BalanceAfter:  bigIntToString(entry.BalanceAfter),
		Source:        strings.TrimSpace(entry.Source),
		SourceID:      strings.TrimSpace(entry.SourceID),
		TxHash:        strings.TrimSpace(entry.TxHash),
		Nonce:         strings.TrimSpace(entry.Nonce),
		Reason:        strings.TrimSpace(entry.Reason),
		Timestamp:     uint64(entry.Timestamp),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return l.store.KVAppend(auditKey(entry.Address), encoded)
}

// AuditTrail returns the audit entries for an address, most recent first. An
// empty typeFilter returns every entry; limit <= 0 means no limit.
func (l *Ledger) AuditTrail(addr [20]byte, typeFilter AuditType, limit int) ([]AuditEntry, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("ledger: storage not initialised")
	}
	var raw [][]byte
	if err := l.store.KVGetList(auditKey(addr), &raw); err != nil {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(raw))
	for _, blob := range raw {
		var stored storedAuditEntry
		if err := rlp.DecodeBytes(blob, &stored); err != nil {
			return nil, fmt.Errorf("ledger: corrupt audit entry: %w", err)
		}
		entry, err := fromStoredAudit(addr, &stored)
		if err != nil {
			return nil, err
		}
		if typeFilter != "" && entry.Type != typeFilter {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func fromStoredAudit(addr [20]byte, stored *storedAuditEntry) (AuditEntry, error) {
	amount, err := parseSignedBigInt(stored.Amount)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("ledger: invalid audit amount: %w", err)
	}
	before, err := parseBigInt(stored.BalanceBefore)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("ledger: invalid audit balance: %w", err)
	}
	after, err := parseBigInt(stored.BalanceAfter)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("ledger: invalid audit balance: %w", err)
	}
	entry := AuditEntry{
		Address:       addr,
		Type:          AuditType(stored.Type),
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Source:        stored.Source,
		SourceID:      stored.SourceID,
		TxHash:        stored.TxHash,
		Nonce:         stored.Nonce,
		Reason:        stored.Reason,
	}
	if stored.Timestamp > 0 {
		entry.Timestamp = int64(stored.Timestamp)
	}
	return entry, nil
}

func parseSignedBigInt(value string) (*big.Int, error) {
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

// AuditSummary aggregates an address's trail into per-type totals.
type AuditSummary struct {
	Address      string
	Entries      int
	TotalEarned  *big.Int
	TotalSpent   *big.Int
	TotalClaimed *big.Int
	Recoveries   int
	FirstSeen    int64
	LastSeen     int64
}

// SummarizeAudit walks the full trail for an address and returns the totals.
func (l *Ledger) SummarizeAudit(addr [20]byte) (*AuditSummary, error) {
	entries, err := l.AuditTrail(addr, "", 0)
	if err != nil {
		return nil, err
	}
	summary := &AuditSummary{
		Address:      FormatAddress(addr),
		Entries:      len(entries),
		TotalEarned:  big.NewInt(0),
		TotalSpent:   big.NewInt(0),
		TotalClaimed: big.NewInt(0),
	}
	for _, entry := range entries {
		switch entry.Type {
		case AuditEarn, AuditRecover:
			summary.TotalEarned.Add(summary.TotalEarned, new(big.Int).Abs(entry.Amount))
			if entry.Type == AuditRecover {
				summary.Recoveries++
			}
		case AuditSpend, AuditConvert:
			summary.TotalSpent.Add(summary.TotalSpent, new(big.Int).Abs(entry.Amount))
		case AuditClaim:
			summary.TotalClaimed.Add(summary.TotalClaimed, new(big.Int).Abs(entry.Amount))
		}
		if summary.FirstSeen == 0 || entry.Timestamp < summary.FirstSeen {
			summary.FirstSeen = entry.Timestamp
		}
		if entry.Timestamp > summary.LastSeen {
			summary.LastSeen = entry.Timestamp
		}
	}
	return summary, nil
}
