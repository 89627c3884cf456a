package claim

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"vbmsd/core/events"
	"vbmsd/native/ledger"
)

// recoveriesToday reads the (count, day) pair; a stored count from a previous
// day does not carry over.
func recoveriesToday(acc *ledger.Account, now time.Time) uint32 {
	if acc.RecoveryDay != recoveryDay(now) {
		return 0
	}
	return acc.RecoveryCount
}

// PendingInfo describes the recoverable state of an account for the status
// endpoint.
type PendingInfo struct {
	Pending             bool
	Amount              *big.Int
	Since               int64
	CanRecover          bool
	RecoverIn           time.Duration
	RecoveriesRemaining uint32
}

// PendingInfo reports whether the account has a conversion awaiting
// finalization and whether the manual recovery window has elapsed.
func (e *Engine) PendingInfo(addr [20]byte) (*PendingInfo, error) {
	if e == nil || e.ledger == nil || e.gate == nil {
		return nil, fmt.Errorf("claim: engine not initialised")
	}
	acc, _, err := e.ledger.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	now := e.now()
	params := e.gate.Params()
	used := recoveriesToday(acc, now)
	remaining := uint32(0)
	if used < params.DailyRecoveryLimit {
		remaining = params.DailyRecoveryLimit - used
	}
	info := &PendingInfo{RecoveriesRemaining: remaining, Amount: big.NewInt(0)}
	if !acc.Conversion.Pending() {
		return info, nil
	}
	info.Pending = true
	info.Amount = new(big.Int).Set(acc.Conversion.Amount)
	info.Since = acc.Conversion.Since
	elapsed := time.Duration(now.Unix()-acc.Conversion.Since) * time.Second
	if elapsed >= params.RecoveryWindow {
		info.CanRecover = remaining > 0
	} else {
		info.RecoverIn = params.RecoveryWindow - elapsed
	}
	return info, nil
}

// RecoveryResult reports a successful manual recovery.
type RecoveryResult struct {
	Restored  *big.Int
	Balance   *big.Int
	Remaining uint32
}

// Recover refunds a pending conversion at the player's request. The recovery
// window must have elapsed, the daily quota must not be spent, and the nonce
// oracle must confirm the claim never executed. An oracle failure counts as
// executed: the balance is never restored for a nonce that may have landed.
func (e *Engine) Recover(ctx context.Context, addr [20]byte) (*RecoveryResult, error) {
	if e == nil || e.ledger == nil || e.gate == nil {
		return nil, fmt.Errorf("claim: engine not initialised")
	}
	acc, _, err := e.ledger.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	now := e.now()
	params := e.gate.Params()
	if !acc.Conversion.Pending() {
		return nil, ErrNothingPending
	}
	elapsed := time.Duration(now.Unix()-acc.Conversion.Since) * time.Second
	if elapsed < params.RecoveryWindow {
		return nil, &TooSoonError{Remaining: params.RecoveryWindow - elapsed}
	}
	if recoveriesToday(acc, now) >= params.DailyRecoveryLimit {
		return nil, ErrDailyLimitReached
	}
	nonce := acc.Conversion.Nonce
	consumed, oracleErr := consumedConservative(ctx, e.oracle, nonce)
	if consumed {
		if err := e.clearWithoutRestore(addr, nonce, oracleErr); err != nil {
			return nil, err
		}
		return nil, ErrBlockedAlreadyClaimed
	}
	return e.restore(addr, nonce, false)
}

// autoRestore is the post-signing-failure path. It shares the oracle check and
// quota with manual recovery but skips the age window: the debit just happened
// and the player should not wait to get it back.
func (e *Engine) autoRestore(ctx context.Context, addr [20]byte, nonce NonceID) error {
	acc, _, err := e.ledger.GetAccount(addr)
	if err != nil {
		return err
	}
	now := e.now()
	if !acc.Conversion.Pending() || acc.Conversion.Nonce != nonce {
		return ErrNothingPending
	}
	if recoveriesToday(acc, now) >= e.gate.Params().DailyRecoveryLimit {
		return ErrDailyLimitReached
	}
	consumed, oracleErr := consumedConservative(ctx, e.oracle, nonce)
	if consumed {
		if err := e.clearWithoutRestore(addr, nonce, oracleErr); err != nil {
			return err
		}
		return ErrBlockedAlreadyClaimed
	}
	_, err = e.restore(addr, nonce, true)
	return err
}

// restore refunds the pending amount and charges the daily quota.
func (e *Engine) restore(addr [20]byte, nonce NonceID, automatic bool) (*RecoveryResult, error) {
	now := e.now()
	day := recoveryDay(now)
	params := e.gate.Params()
	var (
		restored *big.Int
		before   *big.Int
		used     uint32
	)
	acc, err := e.ledger.Mutate(addr, func(acc *ledger.Account) error {
		if !acc.Conversion.Pending() || acc.Conversion.Nonce != nonce {
			return ErrNothingPending
		}
		restored = new(big.Int).Set(acc.Conversion.Amount)
		before = new(big.Int).Set(acc.Balance)
		acc.Balance = new(big.Int).Add(acc.Balance, restored)
		acc.Conversion = ledger.IdleConversion()
		if acc.RecoveryDay != day {
			acc.RecoveryDay = day
			acc.RecoveryCount = 0
		}
		acc.RecoveryCount++
		used = acc.RecoveryCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	reason := "manual recovery"
	if automatic {
		reason = "automatic restore after signing failure"
	}
	if err := e.ledger.AppendAudit(ledger.AuditEntry{
		Address:       addr,
		Type:          ledger.AuditRecover,
		Amount:        new(big.Int).Set(restored),
		BalanceBefore: before,
		BalanceAfter:  new(big.Int).Set(acc.Balance),
		Source:        "conversion",
		Nonce:         nonce.Hex(),
		Reason:        reason,
		Timestamp:     now.Unix(),
	}); err != nil {
		return nil, err
	}
	remaining := uint32(0)
	if used < params.DailyRecoveryLimit {
		remaining = params.DailyRecoveryLimit - used
	}
	if automatic {
		e.emitter.Emit(events.ClaimAutoRestored{
			Address:   addr,
			Amount:    new(big.Int).Set(restored),
			Nonce:     nonce.Hex(),
			Timestamp: now.Unix(),
		})
	} else {
		e.emitter.Emit(events.ClaimRecovered{
			Address:   addr,
			Amount:    new(big.Int).Set(restored),
			Nonce:     nonce.Hex(),
			Remaining: remaining,
			Timestamp: now.Unix(),
		})
	}
	return &RecoveryResult{
		Restored:  restored,
		Balance:   new(big.Int).Set(acc.Balance),
		Remaining: remaining,
	}, nil
}

// clearWithoutRestore closes a pending conversion whose nonce executed
// on-chain (or could not be proven unused). The debited amount is not
// returned.
func (e *Engine) clearWithoutRestore(addr [20]byte, nonce NonceID, oracleErr error) error {
	now := e.now()
	reason := "nonce consumed on-chain"
	if oracleErr != nil {
		reason = fmt.Sprintf("oracle unavailable, treated as consumed: %s", oracleErr)
	}
	var (
		amount  *big.Int
		balance *big.Int
	)
	_, err := e.ledger.Mutate(addr, func(acc *ledger.Account) error {
		if !acc.Conversion.Pending() || acc.Conversion.Nonce != nonce {
			return ErrNothingPending
		}
		amount = new(big.Int).Set(acc.Conversion.Amount)
		acc.Conversion = ledger.IdleConversion()
		balance = new(big.Int).Set(acc.Balance)
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.ledger.AppendAudit(ledger.AuditEntry{
		Address:       addr,
		Type:          ledger.AuditClaim,
		Amount:        new(big.Int).Set(amount),
		BalanceBefore: balance,
		BalanceAfter:  balance,
		Source:        "conversion",
		Nonce:         nonce.Hex(),
		Reason:        reason,
		Timestamp:     now.Unix(),
	}); err != nil {
		return err
	}
	e.emitter.Emit(events.ClaimBlocked{
		Address:   addr,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce.Hex(),
		Reason:    reason,
		Timestamp: now.Unix(),
	})
	return nil
}
