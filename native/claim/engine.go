package claim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vbmsd/core/events"
	"vbmsd/native/ledger"
)

// Engine drives the conversion pipeline: initiation, signing coordination,
// finalization, and recovery. The ledger's per-account write serialisation is
// what makes each transition atomic; the engine never holds partial state of
// its own.
type Engine struct {
	ledger  *ledger.Ledger
	history *History
	gate    *Gate
	signer  Signer
	oracle  NonceOracle
	emitter events.Emitter
	now     func() time.Time

	// finalizeMu serialises Finalize so the duplicate-hash check and the
	// account mutation form one critical section. Without it two calls with
	// the same transaction hash could both pass the history lookup.
	finalizeMu sync.Mutex
}

// NewEngine wires the conversion engine. Signer and oracle may be nil for
// deployments that only serve the ledger surface; the conversion operations
// fail cleanly in that case.
func NewEngine(l *ledger.Ledger, history *History, gate *Gate) *Engine {
	return &Engine{
		ledger:  l,
		history: history,
		gate:    gate,
		emitter: events.NoopEmitter{},
		now:     time.Now,
	}
}

// SetSigner configures the signing service client.
func (e *Engine) SetSigner(signer Signer) {
	e.signer = signer
}

// SetOracle configures the on-chain nonce oracle.
func (e *Engine) SetOracle(oracle NonceOracle) {
	e.oracle = oracle
}

// SetEmitter configures the event emitter used for claim lifecycle events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the wall clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Gate exposes the configured fraud gate.
func (e *Engine) Gate() *Gate {
	if e == nil {
		return nil
	}
	return e.gate
}

// History exposes the finalized claim history.
func (e *Engine) History() *History {
	if e == nil {
		return nil
	}
	return e.history
}

// Ledger exposes the underlying balance ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	if e == nil {
		return nil
	}
	return e.ledger
}

// PendingClaim is the outcome of a successful initiation: the debited amount
// and the nonce the chain transaction must carry.
type PendingClaim struct {
	Address [20]byte
	Amount  *big.Int
	Nonce   NonceID
}

// SignedClaim extends PendingClaim with the authorization signature.
type SignedClaim struct {
	PendingClaim
	Signature string
}

// Initiate runs the fraud gate, debits the balance, and opens the pending
// conversion slot in a single account write. Rejections are side-effect free.
func (e *Engine) Initiate(addr [20]byte, fid uint64, requested *big.Int) (*PendingClaim, error) {
	if e == nil || e.ledger == nil || e.gate == nil {
		return nil, fmt.Errorf("claim: engine not initialised")
	}
	if fid == 0 {
		return nil, ErrIdentityRequired
	}
	nonce, err := NewNonceID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	var (
		amount *big.Int
		before *big.Int
	)
	acc, err := e.ledger.Mutate(addr, func(acc *ledger.Account) error {
		if acc.FID != 0 && acc.FID != fid {
			return ErrIdentityMismatch
		}
		if acc.Conversion.Pending() {
			return ErrConversionPending
		}
		resolved, err := e.gate.Admit(acc, requested, now)
		if err != nil {
			return err
		}
		if acc.FID == 0 {
			acc.FID = fid
		}
		amount = resolved
		before = new(big.Int).Set(acc.Balance)
		acc.Balance = new(big.Int).Sub(acc.Balance, resolved)
		acc.Conversion = ledger.PendingConversion(resolved, nonce, now.Unix())
		acc.LastConversionAttempt = now.Unix()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.ledger.AppendAudit(ledger.AuditEntry{
		Address:       addr,
		Type:          ledger.AuditConvert,
		Amount:        new(big.Int).Neg(amount),
		BalanceBefore: before,
		BalanceAfter:  new(big.Int).Set(acc.Balance),
		Source:        "conversion",
		Nonce:         nonce.Hex(),
		Timestamp:     now.Unix(),
	}); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ClaimPending{
		Address:   addr,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce.Hex(),
		Timestamp: now.Unix(),
	})
	return &PendingClaim{Address: addr, Amount: amount, Nonce: nonce}, nil
}

// Convert is the full client-facing flow: initiate, then obtain the claim
// signature. When signing fails the debited balance is restored automatically
// unless the on-chain oracle reports the nonce consumed or the daily recovery
// quota is spent.
func (e *Engine) Convert(ctx context.Context, addr [20]byte, fid uint64, requested *big.Int) (*SignedClaim, error) {
	if e == nil || e.signer == nil {
		return nil, fmt.Errorf("claim: signer not configured")
	}
	pending, err := e.Initiate(addr, fid, requested)
	if err != nil {
		return nil, err
	}
	signature, err := e.signer.Sign(ctx, addr, pending.Amount.String(), pending.Nonce)
	if err != nil {
		restoreErr := e.autoRestore(ctx, addr, pending.Nonce)
		switch {
		case restoreErr == nil:
			return nil, fmt.Errorf("%w: %s", ErrSigningFailed, err)
		case errors.Is(restoreErr, ErrBlockedAlreadyClaimed):
			return nil, restoreErr
		default:
			return nil, fmt.Errorf("%w: %s", ErrSigningFailedManual, err)
		}
	}
	return &SignedClaim{PendingClaim: *pending, Signature: signature}, nil
}

// Finalize records a completed on-chain claim. The transaction hash is the
// idempotency key: replays return ErrDuplicateTransaction without touching
// state.
func (e *Engine) Finalize(addr [20]byte, amount *big.Int, txHash string) (*Record, error) {
	if e == nil || e.ledger == nil || e.history == nil {
		return nil, fmt.Errorf("claim: engine not initialised")
	}
	e.finalizeMu.Lock()
	defer e.finalizeMu.Unlock()
	exists, err := e.history.Exists(txHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateTransaction
	}
	now := e.now()
	var (
		finalized *big.Int
		nonce     NonceID
		balance   *big.Int
	)
	_, err = e.ledger.Mutate(addr, func(acc *ledger.Account) error {
		if !acc.Conversion.Pending() {
			return ErrNothingPending
		}
		if amount != nil && amount.Cmp(acc.Conversion.Amount) != 0 {
			return fmt.Errorf("claim: finalize amount %s does not match pending %s", amount, acc.Conversion.Amount)
		}
		finalized = new(big.Int).Set(acc.Conversion.Amount)
		nonce = acc.Conversion.Nonce
		acc.ClaimedTokens = new(big.Int).Add(acc.ClaimedTokens, finalized)
		acc.LastClaim = now.Unix()
		acc.Conversion = ledger.IdleConversion()
		balance = new(big.Int).Set(acc.Balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	record := &Record{
		TxHash:      txHash,
		Address:     addr,
		Amount:      finalized,
		Nonce:       nonce,
		FinalizedAt: now.Unix(),
	}
	if err := e.history.Put(record); err != nil {
		return nil, err
	}
	if err := e.ledger.AppendAudit(ledger.AuditEntry{
		Address:       addr,
		Type:          ledger.AuditClaim,
		Amount:        new(big.Int).Set(finalized),
		BalanceBefore: balance,
		BalanceAfter:  balance,
		Source:        "conversion",
		TxHash:        record.TxHash,
		Nonce:         nonce.Hex(),
		Timestamp:     now.Unix(),
	}); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ClaimFinalized{
		Address:   addr,
		Amount:    new(big.Int).Set(finalized),
		Nonce:     nonce.Hex(),
		TxHash:    record.TxHash,
		Timestamp: now.Unix(),
	})
	return record.Copy(), nil
}
