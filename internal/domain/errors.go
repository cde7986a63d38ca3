package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
	ErrMetadataUnavailable = errors.New("metadata unavailable")

	// Numeric and quoting failures.
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidSlippage       = errors.New("slippage tolerance must be within [0, 10000] bps")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrNoLiquidity           = errors.New("no liquidity")
	ErrZeroQuote             = errors.New("quote is zero for a non-zero input")
	ErrMinimumOutputIsZero   = errors.New("minimum output collapses to zero")
	ErrUnsupportedMarketType = errors.New("unsupported market type")
	ErrEmptyPriceVector      = errors.New("empty price vector")
	ErrPriceSumOutOfRange    = errors.New("outcome prices do not sum to 10000 bps")

	// Signed proposal material.
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidProposal  = errors.New("invalid proposal")
	ErrInvalidEvidence  = errors.New("invalid evidence")

	// Resolution guards. Guard failures caused by calling an operation from
	// the wrong state wrap both ErrInvalidStateTransition and ErrWrongState.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrWrongState             = errors.New("wrong state")
	ErrBondTooLow             = errors.New("bond below minimum")
	ErrWindowExpired          = errors.New("dispute window expired")
	ErrNotYetEligible         = errors.New("not yet eligible")
	ErrInvalidOutcome         = errors.New("outcome out of range")
	ErrNotArbitrator          = errors.New("caller is not the arbitrator")

	// Ledger transport.
	ErrLedger            = errors.New("ledger error")
	ErrSubmissionTimeout = errors.New("submission timed out; outcome unknown")
)

// LedgerError wraps a transport failure or ledger-side rejection. Reason is
// kept verbatim and is only classified on a best-effort basis.
type LedgerError struct {
	Target string // contract address or endpoint
	Op     string // method or RPC call
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("ledger: %s on %s", e.Op, e.Target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is reports every LedgerError as ErrLedger.
func (e *LedgerError) Is(target error) bool { return target == ErrLedger }

// Reverted reports whether the reason looks like an execution revert rather
// than a transport failure.
func (e *LedgerError) Reverted() bool {
	return strings.Contains(strings.ToLower(e.Reason), "revert")
}
