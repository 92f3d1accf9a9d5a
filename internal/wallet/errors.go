package wallet

import "errors"

var (
	// ErrWalletNotFound occurs when a wallet id does not resolve to a row.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when both pools together cannot cover a
	// requested hold. The hold mutates nothing in that case.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrHoldNotFound indicates a release or settle against a reference with
	// no recorded hold. This is an integration bug, not a retryable state.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrInvalidAmount rejects non-positive hold/topup amounts and negative
	// settle amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAdjustment rejects adjustments without a reason or with both
	// deltas zero.
	ErrInvalidAdjustment = errors.New("invalid adjustment")
)
