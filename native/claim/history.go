package claim

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"vbmsd/native/ledger"
)

// Storage abstracts the subset of state access required by the claim history.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	historyRecordPrefix = []byte("claim/history/")
	historyIndexPrefix  = []byte("claim/history/index/")
)

func historyKey(txHash string) []byte {
	trimmed := strings.ToLower(strings.TrimSpace(txHash))
	buf := make([]byte, len(historyRecordPrefix)+len(trimmed))
	copy(buf, historyRecordPrefix)
	copy(buf[len(historyRecordPrefix):], trimmed)
	return buf
}

func historyIndexKey(addr [20]byte) []byte {
	return append(append([]byte(nil), historyIndexPrefix...), addr[:]...)
}

// Record captures the metadata stored for every finalized claim. The txHash key
// doubles as the finalization idempotency guard.
type Record struct {
	TxHash      string
	Address     [20]byte
	Amount      *big.Int
	Nonce       NonceID
	FinalizedAt int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return &clone
}

type storedRecord struct {
	TxHash      string
	Address     [20]byte
	Amount      string
	Nonce       [32]byte
	FinalizedAt uint64
}

type historyIndexEntry struct {
	TxHash      string
	FinalizedAt uint64
}

func toStoredRecord(record *Record) storedRecord {
	stored := storedRecord{
		TxHash:  strings.ToLower(strings.TrimSpace(record.TxHash)),
		Address: record.Address,
		Nonce:   record.Nonce,
	}
	if record.Amount != nil {
		stored.Amount = record.Amount.String()
	} else {
		stored.Amount = "0"
	}
	if record.FinalizedAt > 0 {
		stored.FinalizedAt = uint64(record.FinalizedAt)
	}
	return stored
}

func fromStoredRecord(stored *storedRecord) (*Record, error) {
	amount, ok := new(big.Int).SetString(stored.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("claim: invalid stored amount %q", stored.Amount)
	}
	record := &Record{
		TxHash:  stored.TxHash,
		Address: stored.Address,
		Amount:  amount,
		Nonce:   stored.Nonce,
	}
	if stored.FinalizedAt > 0 {
		record.FinalizedAt = int64(stored.FinalizedAt)
	}
	return record, nil
}

// History persists finalized claim records in the key-value store with a
// per-address index for query support.
type History struct {
	store Storage
}

// NewHistory constructs a history bound to the provided storage backend.
func NewHistory(store Storage) *History {
	return &History{store: store}
}

// Exists reports whether the transaction hash was already recorded.
func (h *History) Exists(txHash string) (bool, error) {
	if h == nil || h.store == nil {
		return false, fmt.Errorf("claim: history not initialised")
	}
	key := historyKey(txHash)
	if len(key) == len(historyRecordPrefix) {
		return false, fmt.Errorf("claim: txHash required")
	}
	var stored storedRecord
	return h.store.KVGet(key, &stored)
}

// Put stores the record, enforcing append-only semantics keyed by txHash.
func (h *History) Put(record *Record) error {
	if h == nil || h.store == nil {
		return fmt.Errorf("claim: history not initialised")
	}
	if record == nil {
		return fmt.Errorf("claim: record must not be nil")
	}
	key := historyKey(record.TxHash)
	if len(key) == len(historyRecordPrefix) {
		return fmt.Errorf("claim: txHash required")
	}
	var existing storedRecord
	ok, err := h.store.KVGet(key, &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrDuplicateTransaction
	}
	stored := toStoredRecord(record)
	if err := h.store.KVPut(key, stored); err != nil {
		return err
	}
	entry := historyIndexEntry{TxHash: stored.TxHash, FinalizedAt: stored.FinalizedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return h.store.KVAppend(historyIndexKey(record.Address), encoded)
}

// Get retrieves a record by transaction hash.
func (h *History) Get(txHash string) (*Record, bool, error) {
	if h == nil || h.store == nil {
		return nil, false, fmt.Errorf("claim: history not initialised")
	}
	var stored storedRecord
	ok, err := h.store.KVGet(historyKey(txHash), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	record, err := fromStoredRecord(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// ListByAddress returns the address's finalized claims, most recent first.
// limit <= 0 returns the full history.
func (h *History) ListByAddress(addr [20]byte, limit int) ([]*Record, error) {
	if h == nil || h.store == nil {
		return nil, fmt.Errorf("claim: history not initialised")
	}
	var raw [][]byte
	if err := h.store.KVGetList(historyIndexKey(addr), &raw); err != nil {
		return nil, err
	}
	entries := make([]historyIndexEntry, 0, len(raw))
	for _, blob := range raw {
		var entry historyIndexEntry
		if err := rlp.DecodeBytes(blob, &entry); err != nil {
			return nil, fmt.Errorf("claim: corrupt history index: %w", err)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].FinalizedAt == entries[j].FinalizedAt {
			return entries[i].TxHash > entries[j].TxHash
		}
		return entries[i].FinalizedAt > entries[j].FinalizedAt
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		record, ok, err := h.Get(entry.TxHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("claim: index references missing record %s", entry.TxHash)
		}
		records = append(records, record)
	}
	return records, nil
}

// FormatAddress is re-exported for callers that only import this package.
func FormatAddress(addr [20]byte) string {
	return ledger.FormatAddress(addr)
}
