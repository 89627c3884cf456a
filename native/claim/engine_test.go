package claim

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"vbmsd/native/ledger"
	"vbmsd/storage"
)

// testFID is the game identity used wherever a test does not exercise the
// identity binding itself.
const testFID = 4242

type fakeSigner struct {
	signature string
	err       error
	calls     int
}

func (f *fakeSigner) Sign(ctx context.Context, addr [20]byte, amount string, nonce NonceID) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.signature, nil
}

type fakeOracle struct {
	consumed bool
	err      error
	calls    int
}

func (f *fakeOracle) NonceConsumed(ctx context.Context, nonce NonceID) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.consumed, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type engineFixture struct {
	engine *Engine
	ledger *ledger.Ledger
	clock  *testClock
	signer *fakeSigner
	oracle *fakeOracle
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	state := storage.NewState(storage.NewMemDB())
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	l := ledger.NewLedger(state)
	l.SetNowFunc(clock.Now)
	gate, err := NewGate(DefaultParams(), nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	engine := NewEngine(l, NewHistory(state), gate)
	engine.SetNowFunc(clock.Now)
	signer := &fakeSigner{signature: "0xsig"}
	oracle := &fakeOracle{}
	engine.SetSigner(signer)
	engine.SetOracle(oracle)
	return &engineFixture{engine: engine, ledger: l, clock: clock, signer: signer, oracle: oracle}
}

func (f *engineFixture) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if _, err := f.ledger.Credit(addr, big.NewInt(amount), "match_win", ""); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// Crediting does not gate conversions, but the fixture clock moves so
	// each test starts outside any previous cooldown.
	f.clock.Advance(time.Second)
}

func (f *engineFixture) account(t *testing.T, addr [20]byte) *ledger.Account {
	t.Helper()
	acc, _, err := f.ledger.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc
}

func TestInitiateDebitsAndOpensPending(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(1)
	f.fund(t, addr, 600)

	pending, err := f.engine.Initiate(addr, testFID, nil)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if pending.Amount.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected amount %s", pending.Amount)
	}
	if pending.Nonce.IsZero() {
		t.Fatalf("nonce not generated")
	}
	acc := f.account(t, addr)
	if acc.Balance.Sign() != 0 {
		t.Fatalf("balance not debited: %s", acc.Balance)
	}
	if !acc.Conversion.Pending() || acc.Conversion.Nonce != pending.Nonce {
		t.Fatalf("pending slot not opened: %+v", acc.Conversion)
	}
	if acc.LastConversionAttempt != f.clock.Now().Unix() {
		t.Fatalf("cooldown timestamp not set")
	}
}

func TestInitiateRejectsSecondPending(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(2)
	f.fund(t, addr, 1000)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); !errors.Is(err, ErrConversionPending) {
		t.Fatalf("expected ErrConversionPending, got %v", err)
	}
	acc := f.account(t, addr)
	if acc.Balance.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("second attempt touched balance: %s", acc.Balance)
	}
}

func TestInitiateEnforcesCooldown(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(3)
	f.fund(t, addr, 1000)
	pending, err := f.engine.Initiate(addr, testFID, big.NewInt(200))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.engine.Finalize(addr, pending.Amount, "0xaaa"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	_, err = f.engine.Initiate(addr, testFID, big.NewInt(200))
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldown.Remaining != 150*time.Second {
		t.Fatalf("unexpected remaining %s", cooldown.Remaining)
	}
	before := f.account(t, addr).LastConversionAttempt
	f.clock.Advance(10 * time.Second)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err == nil {
		t.Fatalf("expected cooldown rejection")
	}
	if f.account(t, addr).LastConversionAttempt != before {
		t.Fatalf("rejected attempt moved the cooldown base")
	}
	f.clock.Advance(150 * time.Second)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err != nil {
		t.Fatalf("initiate after cooldown: %v", err)
	}
}

func TestInitiateRequiresIdentity(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(23)
	f.fund(t, addr, 1000)
	if _, err := f.engine.Initiate(addr, 0, big.NewInt(200)); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
	acc := f.account(t, addr)
	if acc.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("rejected attempt touched balance: %s", acc.Balance)
	}
	if acc.Conversion.Pending() {
		t.Fatalf("rejected attempt opened pending slot")
	}
	if _, err := f.engine.Convert(context.Background(), addr, 0, big.NewInt(200)); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired from convert, got %v", err)
	}
}

func TestInitiateBindsAndChecksIdentity(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(4)
	f.fund(t, addr, 1000)
	if _, err := f.engine.Initiate(addr, 777, big.NewInt(200)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if f.account(t, addr).FID != 777 {
		t.Fatalf("fid not bound")
	}
	if _, err := f.engine.Finalize(addr, nil, "0xbbb"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.engine.Initiate(addr, 888, big.NewInt(200)); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}

func TestInitiateClampsToMaximum(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(5)
	f.fund(t, addr, 600_000)
	pending, err := f.engine.Initiate(addr, testFID, nil)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if pending.Amount.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("amount not clamped: %s", pending.Amount)
	}
	if f.account(t, addr).Balance.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("excess not kept: %s", f.account(t, addr).Balance)
	}
}

func TestConvertSuccess(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(6)
	f.fund(t, addr, 500)
	signed, err := f.engine.Convert(context.Background(), addr, testFID, nil)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if signed.Signature != "0xsig" {
		t.Fatalf("unexpected signature %q", signed.Signature)
	}
	if f.signer.calls != 1 {
		t.Fatalf("signer called %d times", f.signer.calls)
	}
	if !f.account(t, addr).Conversion.Pending() {
		t.Fatalf("pending slot should stay open until finalization")
	}
}

func TestConvertSigningFailureRestoresBalance(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(7)
	f.fund(t, addr, 500)
	f.signer.err = errors.New("signer down")

	_, err := f.engine.Convert(context.Background(), addr, testFID, nil)
	if !errors.Is(err, ErrSigningFailed) {
		t.Fatalf("expected ErrSigningFailed, got %v", err)
	}
	acc := f.account(t, addr)
	if acc.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance not restored: %s", acc.Balance)
	}
	if acc.Conversion.Pending() {
		t.Fatalf("pending slot not cleared")
	}
	if acc.RecoveryCount != 1 {
		t.Fatalf("auto restore should charge the daily quota, count=%d", acc.RecoveryCount)
	}
	if f.oracle.calls != 1 {
		t.Fatalf("oracle consulted %d times", f.oracle.calls)
	}
}

func TestConvertSigningFailureWithConsumedNonce(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(8)
	f.fund(t, addr, 500)
	f.signer.err = errors.New("signer down")
	f.oracle.consumed = true

	_, err := f.engine.Convert(context.Background(), addr, testFID, nil)
	if !errors.Is(err, ErrBlockedAlreadyClaimed) {
		t.Fatalf("expected ErrBlockedAlreadyClaimed, got %v", err)
	}
	acc := f.account(t, addr)
	if acc.Balance.Sign() != 0 {
		t.Fatalf("consumed nonce must not be refunded: %s", acc.Balance)
	}
	if acc.Conversion.Pending() {
		t.Fatalf("pending slot not cleared")
	}
}

func TestConvertSigningFailureWithOracleErrorIsConservative(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(9)
	f.fund(t, addr, 500)
	f.signer.err = errors.New("signer down")
	f.oracle.err = errors.New("rpc timeout")

	_, err := f.engine.Convert(context.Background(), addr, testFID, nil)
	if !errors.Is(err, ErrBlockedAlreadyClaimed) {
		t.Fatalf("expected ErrBlockedAlreadyClaimed, got %v", err)
	}
	if f.account(t, addr).Balance.Sign() != 0 {
		t.Fatalf("oracle failure must not refund")
	}
}

func TestConvertSigningFailureQuotaExhaustedLeavesPending(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(10)
	f.fund(t, addr, 600_000)
	f.signer.err = errors.New("signer down")

	// Burn the daily quota through three failed conversions.
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Convert(context.Background(), addr, testFID, big.NewInt(200)); !errors.Is(err, ErrSigningFailed) {
			t.Fatalf("attempt %d: expected ErrSigningFailed, got %v", i, err)
		}
		f.clock.Advance(200 * time.Second)
	}
	_, err := f.engine.Convert(context.Background(), addr, testFID, big.NewInt(200))
	if !errors.Is(err, ErrSigningFailedManual) {
		t.Fatalf("expected ErrSigningFailedManual, got %v", err)
	}
	acc := f.account(t, addr)
	if !acc.Conversion.Pending() {
		t.Fatalf("pending slot should remain for manual recovery")
	}
}

func TestFinalizeCompletesClaim(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(11)
	f.fund(t, addr, 800)
	pending, err := f.engine.Initiate(addr, testFID, big.NewInt(300))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	record, err := f.engine.Finalize(addr, pending.Amount, "0xAbC123")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if record.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected record amount %s", record.Amount)
	}
	acc := f.account(t, addr)
	if acc.Conversion.Pending() {
		t.Fatalf("pending slot not cleared")
	}
	if acc.ClaimedTokens.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("claimed tokens not updated: %s", acc.ClaimedTokens)
	}
	if acc.LastClaim != f.clock.Now().Unix() {
		t.Fatalf("last claim not set")
	}
	if acc.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("finalize touched the balance: %s", acc.Balance)
	}
}

func TestFinalizeDuplicateTxHash(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(12)
	f.fund(t, addr, 800)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.engine.Finalize(addr, nil, "0xdup"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	f.clock.Advance(300 * time.Second)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	before := f.account(t, addr)
	if _, err := f.engine.Finalize(addr, nil, "0xDUP"); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	after := f.account(t, addr)
	if after.Balance.Cmp(before.Balance) != 0 || !after.Conversion.Pending() {
		t.Fatalf("duplicate finalize mutated state")
	}
	if after.ClaimedTokens.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("claimed tokens double counted: %s", after.ClaimedTokens)
	}
}

func TestConcurrentFinalizeSameTxHash(t *testing.T) {
	f := newEngineFixture(t)
	addrA := testAddr(24)
	addrB := testAddr(25)
	f.fund(t, addrA, 800)
	f.fund(t, addrB, 800)
	if _, err := f.engine.Initiate(addrA, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate a: %v", err)
	}
	if _, err := f.engine.Initiate(addrB, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate b: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.engine.Finalize(addrA, nil, "0xrace")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.engine.Finalize(addrB, nil, "0xrace")
	}()
	wg.Wait()

	var successes, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateTransaction):
			duplicates++
		default:
			t.Fatalf("unexpected finalize error: %v", err)
		}
	}
	if successes != 1 || duplicates != 1 {
		t.Fatalf("expected one winner and one duplicate, got %d/%d", successes, duplicates)
	}

	for i, addr := range [][20]byte{addrA, addrB} {
		acc := f.account(t, addr)
		if errs[i] == nil {
			if acc.Conversion.Pending() || acc.ClaimedTokens.Cmp(big.NewInt(300)) != 0 {
				t.Fatalf("winner state wrong: %+v", acc)
			}
			continue
		}
		if !acc.Conversion.Pending() {
			t.Fatalf("loser lost its pending conversion")
		}
		if acc.ClaimedTokens.Sign() != 0 {
			t.Fatalf("loser credited claimed tokens: %s", acc.ClaimedTokens)
		}
	}

	exists, err := f.engine.History().Exists("0xrace")
	if err != nil || !exists {
		t.Fatalf("history missing the winning record: %v", err)
	}
}

func TestFinalizeWithoutPending(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(13)
	f.fund(t, addr, 800)
	if _, err := f.engine.Finalize(addr, big.NewInt(100), "0xccc"); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestFinalizeAmountMismatch(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(14)
	f.fund(t, addr, 800)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.engine.Finalize(addr, big.NewInt(299), "0xddd"); err == nil {
		t.Fatalf("expected amount mismatch error")
	}
	if !f.account(t, addr).Conversion.Pending() {
		t.Fatalf("mismatch cleared pending")
	}
}

func TestRecoverTooSoon(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(15)
	f.fund(t, addr, 800)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	_, err := f.engine.Recover(context.Background(), addr)
	var tooSoon *TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("expected TooSoonError, got %v", err)
	}
	if tooSoon.Remaining != 20*time.Second {
		t.Fatalf("unexpected remaining %s", tooSoon.Remaining)
	}
}

func TestRecoverRestoresAfterWindow(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(16)
	f.fund(t, addr, 800)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(31 * time.Second)
	result, err := f.engine.Recover(context.Background(), addr)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Restored.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected restored %s", result.Restored)
	}
	if result.Balance.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("unexpected balance %s", result.Balance)
	}
	if result.Remaining != 2 {
		t.Fatalf("unexpected remaining quota %d", result.Remaining)
	}
	if f.account(t, addr).Conversion.Pending() {
		t.Fatalf("pending slot not cleared")
	}
}

func TestRecoverWithoutPending(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.Recover(context.Background(), testAddr(17)); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestRecoverDailyLimit(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(18)
	f.fund(t, addr, 10_000)
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err != nil {
			t.Fatalf("initiate %d: %v", i, err)
		}
		f.clock.Advance(200 * time.Second)
		if _, err := f.engine.Recover(context.Background(), addr); err != nil {
			t.Fatalf("recover %d: %v", i, err)
		}
	}
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(200 * time.Second)
	if _, err := f.engine.Recover(context.Background(), addr); !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("expected ErrDailyLimitReached, got %v", err)
	}
	if !f.account(t, addr).Conversion.Pending() {
		t.Fatalf("quota rejection must leave pending intact")
	}

	// The quota resets at the next UTC day boundary.
	f.clock.Advance(24 * time.Hour)
	if _, err := f.engine.Recover(context.Background(), addr); err != nil {
		t.Fatalf("recover after reset: %v", err)
	}
}

func TestRecoverConsumedNonceBlocks(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(19)
	f.fund(t, addr, 800)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(time.Minute)
	f.oracle.consumed = true
	if _, err := f.engine.Recover(context.Background(), addr); !errors.Is(err, ErrBlockedAlreadyClaimed) {
		t.Fatalf("expected ErrBlockedAlreadyClaimed, got %v", err)
	}
	acc := f.account(t, addr)
	if acc.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("blocked recovery must not refund: %s", acc.Balance)
	}
	if acc.Conversion.Pending() {
		t.Fatalf("blocked recovery must clear pending")
	}
	// A further recovery has nothing to act on.
	if _, err := f.engine.Recover(context.Background(), addr); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestPendingInfo(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(20)
	f.fund(t, addr, 800)

	info, err := f.engine.PendingInfo(addr)
	if err != nil {
		t.Fatalf("pending info: %v", err)
	}
	if info.Pending || info.RecoveriesRemaining != 3 {
		t.Fatalf("unexpected idle info %+v", info)
	}

	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	info, err = f.engine.PendingInfo(addr)
	if err != nil {
		t.Fatalf("pending info: %v", err)
	}
	if !info.Pending || info.CanRecover {
		t.Fatalf("expected pending, not yet recoverable: %+v", info)
	}
	if info.RecoverIn != 20*time.Second {
		t.Fatalf("unexpected recover in %s", info.RecoverIn)
	}

	f.clock.Advance(25 * time.Second)
	info, err = f.engine.PendingInfo(addr)
	if err != nil {
		t.Fatalf("pending info: %v", err)
	}
	if !info.CanRecover {
		t.Fatalf("expected recoverable: %+v", info)
	}
}

// Conservation: across any sequence of operations, the sum of balance, pending
// amount, and finalized tokens never exceeds what was ever credited.
func TestValueConservation(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(21)
	f.fund(t, addr, 1000)

	check := func(label string) {
		acc := f.account(t, addr)
		total := new(big.Int).Add(acc.Balance, acc.ClaimedTokens)
		if acc.Conversion.Pending() {
			total.Add(total, acc.Conversion.Amount)
		}
		if total.Cmp(big.NewInt(1000)) > 0 {
			t.Fatalf("%s: value created from nothing: %s", label, total)
		}
	}

	pending, err := f.engine.Initiate(addr, testFID, big.NewInt(400))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	check("after initiate")
	if _, err := f.engine.Finalize(addr, pending.Amount, "0x1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	check("after finalize")

	f.clock.Advance(200 * time.Second)
	if _, err := f.engine.Initiate(addr, testFID, big.NewInt(300)); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	check("after second initiate")
	f.clock.Advance(time.Minute)
	if _, err := f.engine.Recover(context.Background(), addr); err != nil {
		t.Fatalf("recover: %v", err)
	}
	check("after recover")
}

func TestClaimHistoryRecordsFinalizations(t *testing.T) {
	f := newEngineFixture(t)
	addr := testAddr(22)
	f.fund(t, addr, 10_000)
	hashes := []string{"0xa1", "0xa2", "0xa3"}
	for i, h := range hashes {
		if _, err := f.engine.Initiate(addr, testFID, big.NewInt(200)); err != nil {
			t.Fatalf("initiate %d: %v", i, err)
		}
		f.clock.Advance(time.Second)
		if _, err := f.engine.Finalize(addr, nil, h); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
		f.clock.Advance(200 * time.Second)
	}
	records, err := f.engine.History().ListByAddress(addr, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].TxHash != "0xa3" {
		t.Fatalf("expected most recent first, got %s", records[0].TxHash)
	}
	limited, err := f.engine.History().ListByAddress(addr, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 records, got %d", len(limited))
	}
}
