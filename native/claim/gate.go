package claim

import (
	"fmt"
	"math/big"
	"time"

	"vbmsd/native/ledger"
)

// Gate runs the fraud and eligibility checks that precede any balance
// mutation. Every check is side-effect free; a rejected attempt leaves the
// account untouched, including its cooldown timestamps.
type Gate struct {
	params Params
	deny   *DenyList
}

// NewGate validates the parameters and builds a gate.
func NewGate(params Params, deny *DenyList) (*Gate, error) {
	normalised, err := params.Normalise()
	if err != nil {
		return nil, err
	}
	if deny == nil {
		deny, _ = NewDenyList(nil)
	}
	return &Gate{params: normalised, deny: deny}, nil
}

// Params returns the active guardrails.
func (g *Gate) Params() Params {
	if g == nil {
		return DefaultParams()
	}
	return g.params
}

// DenyList exposes the loaded deny list for reporting.
func (g *Gate) DenyList() *DenyList {
	if g == nil {
		return nil
	}
	return g.deny
}

// cooldownBase picks the reference timestamp for the cooldown check. Accounts
// that never attempted a conversion fall back to their last successful claim.
func cooldownBase(acc *ledger.Account) int64 {
	if acc.LastConversionAttempt > 0 {
		return acc.LastConversionAttempt
	}
	return acc.LastClaim
}

// CheckCooldown returns a CooldownError when the account attempted a
// conversion too recently.
func (g *Gate) CheckCooldown(acc *ledger.Account, now time.Time) error {
	if g == nil {
		return fmt.Errorf("claim: gate not configured")
	}
	base := cooldownBase(acc)
	if base <= 0 {
		return nil
	}
	elapsed := now.Unix() - base
	if elapsed < int64(g.params.Cooldown/time.Second) {
		remaining := g.params.Cooldown - time.Duration(elapsed)*time.Second
		return &CooldownError{Remaining: remaining}
	}
	return nil
}

// Admit runs the full pre-mutation pipeline for a conversion attempt and
// resolves the amount to convert. A nil requested amount means "convert the
// full balance". Amounts above the per-conversion cap are clamped; the excess
// stays spendable.
func (g *Gate) Admit(acc *ledger.Account, requested *big.Int, now time.Time) (*big.Int, error) {
	if g == nil {
		return nil, fmt.Errorf("claim: gate not configured")
	}
	if acc == nil {
		return nil, fmt.Errorf("claim: nil account")
	}
	if g.deny.Contains(acc.Address) {
		return nil, ErrBlacklisted
	}
	if err := g.CheckCooldown(acc, now); err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if requested != nil {
		if requested.Sign() <= 0 {
			return nil, fmt.Errorf("claim: requested amount must be positive")
		}
		if requested.Cmp(acc.Balance) > 0 {
			return nil, &InsufficientError{
				Balance:   new(big.Int).Set(acc.Balance),
				Requested: new(big.Int).Set(requested),
			}
		}
		amount.Set(requested)
	} else {
		amount.Set(acc.Balance)
	}
	if amount.Cmp(g.params.MaximumClaim) > 0 {
		amount.Set(g.params.MaximumClaim)
	}
	if amount.Cmp(g.params.MinimumClaim) < 0 {
		return nil, &MinimumError{
			Minimum: new(big.Int).Set(g.params.MinimumClaim),
			Balance: new(big.Int).Set(acc.Balance),
		}
	}
	return amount, nil
}
