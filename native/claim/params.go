package claim

import (
	"fmt"
	"math/big"
	"time"
)

const (
	defaultMinimumClaim       = 100
	defaultMaximumClaim       = 500_000
	defaultCooldown           = 180 * time.Second
	defaultRecoveryWindow     = 30 * time.Second
	defaultDailyRecoveryLimit = 3
)

// Params carries the runtime guardrails for the conversion pipeline.
type Params struct {
	// MinimumClaim is the smallest balance eligible for conversion.
	MinimumClaim *big.Int
	// MaximumClaim caps a single conversion; larger balances convert the cap
	// and keep the excess.
	MaximumClaim *big.Int
	// Cooldown is the minimum spacing between conversion attempts.
	Cooldown time.Duration
	// RecoveryWindow is how long a pending conversion must age before manual
	// recovery is allowed.
	RecoveryWindow time.Duration
	// DailyRecoveryLimit bounds recoveries per address per UTC day.
	DailyRecoveryLimit uint32
}

// DefaultParams returns the production guardrails.
func DefaultParams() Params {
	return Params{
		MinimumClaim:       big.NewInt(defaultMinimumClaim),
		MaximumClaim:       big.NewInt(defaultMaximumClaim),
		Cooldown:           defaultCooldown,
		RecoveryWindow:     defaultRecoveryWindow,
		DailyRecoveryLimit: defaultDailyRecoveryLimit,
	}
}

// Normalise fills zero fields with the defaults and validates ordering.
func (p Params) Normalise() (Params, error) {
	out := p
	if out.MinimumClaim == nil || out.MinimumClaim.Sign() <= 0 {
		out.MinimumClaim = big.NewInt(defaultMinimumClaim)
	}
	if out.MaximumClaim == nil || out.MaximumClaim.Sign() <= 0 {
		out.MaximumClaim = big.NewInt(defaultMaximumClaim)
	}
	if out.MaximumClaim.Cmp(out.MinimumClaim) < 0 {
		return out, fmt.Errorf("claim: maximum claim %s below minimum %s", out.MaximumClaim, out.MinimumClaim)
	}
	if out.Cooldown <= 0 {
		out.Cooldown = defaultCooldown
	}
	if out.RecoveryWindow <= 0 {
		out.RecoveryWindow = defaultRecoveryWindow
	}
	if out.DailyRecoveryLimit == 0 {
		out.DailyRecoveryLimit = defaultDailyRecoveryLimit
	}
	return out, nil
}

// recoveryDay renders the UTC day bucket used for the recovery quota.
func recoveryDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
