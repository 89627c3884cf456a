package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vbmsd/core/events"
)

// Storage is the persistence surface the ledger relies on. The concrete
// implementation lives in the storage package; tests substitute an in-memory
// variant.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	// ErrInvalidAmount is returned when a mutation carries a nil, zero, or
	// negative amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientBalance is returned when a debit exceeds the spendable
	// balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

var accountPrefix = []byte("ledger/account/")

func accountKey(addr [20]byte) []byte {
	return append(append([]byte(nil), accountPrefix...), addr[:]...)
}

// Ledger owns the authoritative balance records. All mutations flow through
// Mutate, which serialises writers so read-modify-write cycles never interleave
// for the same snapshot.
type Ledger struct {
	mu      sync.Mutex
	store   Storage
	emitter events.Emitter
	now     func() time.Time
}

// NewLedger constructs a ledger over the provided storage.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}, now: time.Now}
}

// SetEmitter configures the event emitter used for balance change events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetNowFunc overrides the wall clock, primarily for tests.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// GetAccount loads the account for the supplied address. The boolean reports
// whether a record existed; callers receive a zero-valued account otherwise.
func (l *Ledger) GetAccount(addr [20]byte) (*Account, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, fmt.Errorf("ledger: storage not initialised")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getAccountLocked(addr)
}

func (l *Ledger) getAccountLocked(addr [20]byte) (*Account, bool, error) {
	var stored storedAccount
	ok, err := l.store.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		acc := ensureAccount(&Account{Address: addr})
		return acc, false, nil
	}
	acc, err := fromStoredAccount(addr, &stored)
	if err != nil {
		return nil, false, err
	}
	return ensureAccount(acc), true, nil
}

func (l *Ledger) putAccountLocked(acc *Account) error {
	stored := toStoredAccount(acc)
	return l.store.KVPut(accountKey(acc.Address), stored)
}

// Mutate loads the account, applies fn, and persists the result if fn returns
// nil. The ledger mutex is held for the full cycle so concurrent mutations of
// the same account cannot lose updates. The returned account is a clone.
func (l *Ledger) Mutate(addr [20]byte, fn func(*Account) error) (*Account, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("ledger: storage not initialised")
	}
	if fn == nil {
		return nil, fmt.Errorf("ledger: nil mutation")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, _, err := l.getAccountLocked(addr)
	if err != nil {
		return nil, err
	}
	if err := fn(acc); err != nil {
		return nil, err
	}
	acc = ensureAccount(acc)
	if err := l.putAccountLocked(acc); err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// Credit adds amount to the balance and lifetime earned total, records an audit
// entry, and emits a balance event. Source identifies the game system that
// produced the coins (e.g. "match_win", "daily_bonus").
func (l *Ledger) Credit(addr [20]byte, amount *big.Int, source, sourceID string) (*Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var before *big.Int
	acc, err := l.Mutate(addr, func(acc *Account) error {
		before = new(big.Int).Set(acc.Balance)
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		acc.LifetimeEarned = new(big.Int).Add(acc.LifetimeEarned, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ts := l.now().Unix()
	if err := l.AppendAudit(AuditEntry{
		Address:       addr,
		Type:          AuditEarn,
		Amount:        new(big.Int).Set(amount),
		BalanceBefore: before,
		BalanceAfter:  new(big.Int).Set(acc.Balance),
		Source:        source,
		SourceID:      sourceID,
		Timestamp:     ts,
	}); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.LedgerCredited{
		Address:   addr,
		Amount:    new(big.Int).Set(amount),
		Balance:   new(big.Int).Set(acc.Balance),
		Source:    source,
		Timestamp: ts,
	})
	return acc, nil
}

// Debit subtracts amount from the spendable balance and bumps lifetime spent.
// The pending conversion slot is untouched; an in-flight claim never shields
// coins from being spent because those coins were already removed at initiation.
func (l *Ledger) Debit(addr [20]byte, amount *big.Int, source, sourceID string) (*Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var before *big.Int
	acc, err := l.Mutate(addr, func(acc *Account) error {
		if acc.Balance.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		before = new(big.Int).Set(acc.Balance)
		acc.Balance = new(big.Int).Sub(acc.Balance, amount)
		acc.LifetimeSpent = new(big.Int).Add(acc.LifetimeSpent, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ts := l.now().Unix()
	if err := l.AppendAudit(AuditEntry{
		Address:       addr,
		Type:          AuditSpend,
		Amount:        new(big.Int).Neg(amount),
		BalanceBefore: before,
		BalanceAfter:  new(big.Int).Set(acc.Balance),
		Source:        source,
		SourceID:      sourceID,
		Timestamp:     ts,
	}); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.LedgerDebited{
		Address:   addr,
		Amount:    new(big.Int).Set(amount),
		Balance:   new(big.Int).Set(acc.Balance),
		Source:    source,
		Timestamp: ts,
	})
	return acc, nil
}

// SetFID records the verified identity for an address. A zero fid clears it.
func (l *Ledger) SetFID(addr [20]byte, fid uint64) (*Account, error) {
	return l.Mutate(addr, func(acc *Account) error {
		acc.FID = fid
		return nil
	})
}
