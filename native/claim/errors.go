package claim

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrBlacklisted indicates the address is on the exploiter deny list.
	// Fatal; no retry will ever succeed.
	ErrBlacklisted = errors.New("claim: address denied")
	// ErrIdentityRequired indicates the conversion was attempted without a
	// game identity; every initiation must carry a non-zero FID.
	ErrIdentityRequired = errors.New("claim: fid required")
	// ErrIdentityMismatch indicates the caller-supplied FID does not match
	// the identity bound to the account.
	ErrIdentityMismatch = errors.New("claim: identity mismatch")
	// ErrConversionPending indicates the account already has a conversion in
	// flight; it must finalize or be recovered first.
	ErrConversionPending = errors.New("claim: conversion already pending")
	// ErrSigningFailed indicates the signing service failed and the debited
	// balance was restored; the claim may be retried after the cooldown.
	ErrSigningFailed = errors.New("claim: signing failed, balance restored")
	// ErrSigningFailedManual indicates the signing service failed and the
	// automatic restore could not run; the pending conversion remains and
	// requires manual recovery.
	ErrSigningFailedManual = errors.New("claim: signing failed, manual recovery required")
	// ErrDuplicateTransaction indicates the transaction hash was already
	// recorded; the finalization is a no-op replay.
	ErrDuplicateTransaction = errors.New("claim: transaction already recorded")
	// ErrNothingPending indicates no conversion is awaiting finalization or
	// recovery for the account.
	ErrNothingPending = errors.New("claim: no pending conversion")
	// ErrDailyLimitReached indicates the account exhausted today's recovery
	// quota.
	ErrDailyLimitReached = errors.New("claim: daily recovery limit reached")
	// ErrBlockedAlreadyClaimed indicates the pending nonce was consumed
	// on-chain, so the balance must not be restored.
	ErrBlockedAlreadyClaimed = errors.New("claim: nonce already claimed on-chain")
)

// CooldownError reports how long the caller must wait before the next
// conversion attempt.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("claim: cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// MinimumError reports a balance or requested amount below the minimum claim.
type MinimumError struct {
	Minimum *big.Int
	Balance *big.Int
}

func (e *MinimumError) Error() string {
	return fmt.Sprintf("claim: balance %s below minimum claim %s", e.Balance, e.Minimum)
}

// InsufficientError reports a requested amount above the spendable balance.
type InsufficientError struct {
	Balance   *big.Int
	Requested *big.Int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("claim: requested %s exceeds balance %s", e.Requested, e.Balance)
}

// TooSoonError reports a manual recovery attempted before the recovery window
// elapsed.
type TooSoonError struct {
	Remaining time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("claim: recovery window not elapsed, retry in %s", e.Remaining.Round(time.Second))
}
