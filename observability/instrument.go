package observability

import (
	"context"
	"time"

	"vbmsd/native/claim"
)

type instrumentedSigner struct {
	next claim.Signer
}

// InstrumentSigner wraps a signer so every call lands in the signer metrics.
func InstrumentSigner(next claim.Signer) claim.Signer {
	if next == nil {
		return nil
	}
	return &instrumentedSigner{next: next}
}

func (s *instrumentedSigner) Sign(ctx context.Context, addr [20]byte, amount string, nonce claim.NonceID) (string, error) {
	start := time.Now()
	signature, err := s.next.Sign(ctx, addr, amount, nonce)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Claims().ObserveSigner(outcome, time.Since(start))
	return signature, err
}

type instrumentedOracle struct {
	next claim.NonceOracle
}

// InstrumentOracle wraps a nonce oracle so every lookup lands in the oracle
// metrics.
func InstrumentOracle(next claim.NonceOracle) claim.NonceOracle {
	if next == nil {
		return nil
	}
	return &instrumentedOracle{next: next}
}

func (o *instrumentedOracle) NonceConsumed(ctx context.Context, nonce claim.NonceID) (bool, error) {
	start := time.Now()
	consumed, err := o.next.NonceConsumed(ctx, nonce)
	outcome := "unused"
	switch {
	case err != nil:
		outcome = "error"
	case consumed:
		outcome = "consumed"
	}
	Claims().ObserveOracle(outcome, time.Since(start))
	return consumed, err
}
