// Package billing is the preflight layer between metered requests and the
// wallet ledger: estimate and hold before the work runs, settle or abort
// after.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/usage"
	"github.com/meterpay/meterpay/internal/wallet"
)

// ErrChargeLimitExceeded rejects holds above the wallet's per-charge or
// remaining daily cap.
var ErrChargeLimitExceeded = errors.New("charge limit exceeded")

// PaymentRequiredError wraps an insufficient-funds rejection together with
// the outcome of the auto-topup trigger, so the boundary can tell the user
// whether money is already on the way.
type PaymentRequiredError struct {
	Err       error
	AutoTopup payments.AutoTopupResult
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: %v (auto-topup: %s)", e.Err, e.AutoTopup.Status)
}

func (e *PaymentRequiredError) Unwrap() error { return e.Err }

// Preflight authorizes metered requests against the ledger.
type Preflight struct {
	wallets  *wallet.Service
	payments *payments.Service
	rates    RateResolver
	sink     usage.Sink
	logger   *slog.Logger

	holdTTL time.Duration
}

// NewPreflight wires the authorization flow. holdTTL stamps an advisory
// expiry on every hold for the external reaper; zero disables it.
func NewPreflight(wallets *wallet.Service, paymentsSvc *payments.Service, rates RateResolver,
	sink usage.Sink, holdTTL time.Duration, logger *slog.Logger) *Preflight {
	return &Preflight{
		wallets: wallets, payments: paymentsSvc, rates: rates,
		sink: sink, holdTTL: holdTTL, logger: logger,
	}
}

// AuthorizeInput describes a request about to run.
type AuthorizeInput struct {
	UserID        string
	Currency      string
	Model         string
	ReferenceID   string
	ReferenceType string
	Estimated     Units
}

// Authorization is a granted hold.
type Authorization struct {
	WalletID  string
	HoldEntry wallet.LedgerEntry
	Estimate  Cost
}

// Authorize estimates the cost and places a hold. Insufficient funds trigger
// the auto-topup path and surface as PaymentRequiredError; cap violations
// reject without touching balances.
func (p *Preflight) Authorize(ctx context.Context, input AuthorizeInput) (Authorization, error) {
	rate, err := p.rates.Resolve(ctx, input.Model)
	if err != nil {
		return Authorization{}, err
	}
	estimate := Price(rate, input.Estimated)

	w, err := p.wallets.GetOrCreateWallet(ctx, input.UserID, input.Currency)
	if err != nil {
		return Authorization{}, err
	}

	if w.MaxCharge > 0 && estimate.Total() > w.MaxCharge {
		return Authorization{}, fmt.Errorf("%w: estimate %d exceeds per-charge cap %d",
			ErrChargeLimitExceeded, estimate.Total(), w.MaxCharge)
	}
	if w.DailyCap > 0 {
		spent := w.DailySpent
		if !w.DailyResetAt.IsZero() && !time.Now().UTC().Before(w.DailyResetAt) {
			spent = 0
		}
		if spent+estimate.Total() > w.DailyCap {
			return Authorization{}, fmt.Errorf("%w: estimate %d exceeds remaining daily cap %d",
				ErrChargeLimitExceeded, estimate.Total(), w.DailyCap-spent)
		}
	}

	var holdExpiry time.Time
	if p.holdTTL > 0 {
		holdExpiry = time.Now().UTC().Add(p.holdTTL)
	}

	entry, err := p.wallets.HoldFunds(ctx, wallet.HoldInput{
		WalletID:      w.ID,
		Amount:        estimate.Total(),
		ReferenceID:   input.ReferenceID,
		ReferenceType: input.ReferenceType,
		HoldExpiresAt: holdExpiry,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			result := p.payments.MaybeTriggerAutoTopup(ctx, w.ID, "insufficient_funds")
			p.logger.Info("hold rejected, auto-topup considered",
				"wallet_id", w.ID, "estimate", estimate.Total(), "auto_topup", result.Status)
			return Authorization{}, &PaymentRequiredError{Err: err, AutoTopup: result}
		}
		return Authorization{}, err
	}

	return Authorization{WalletID: w.ID, HoldEntry: entry, Estimate: estimate}, nil
}

// SettleInput reports how the request actually went.
type SettleInput struct {
	UserID        string
	WalletID      string
	Model         string
	ReferenceID   string
	ReferenceType string
	Actual        Units

	// Estimated marks settlements priced from the estimate because real
	// usage never arrived.
	Estimated      bool
	EstimateReason string
}

// Settle converts the hold into a final charge priced from actual units and
// emits a usage event. A sink failure is logged, not propagated; the charge
// stands.
func (p *Preflight) Settle(ctx context.Context, input SettleInput) (wallet.LedgerEntry, error) {
	rate, err := p.rates.Resolve(ctx, input.Model)
	if err != nil {
		return wallet.LedgerEntry{}, err
	}
	cost := Price(rate, input.Actual)

	entry, err := p.wallets.SettleHold(ctx, wallet.SettleInput{
		WalletID:      input.WalletID,
		ReferenceID:   input.ReferenceID,
		ReferenceType: input.ReferenceType,
		ActualAmount:  cost.Total(),
		ChargedInput:  cost.Input,
		ChargedOutput: cost.Output,
	})
	if err != nil {
		return wallet.LedgerEntry{}, err
	}

	if sinkErr := p.sink.Record(ctx, usage.Event{
		UserID:         input.UserID,
		WalletID:       input.WalletID,
		ReferenceID:    input.ReferenceID,
		ReferenceType:  input.ReferenceType,
		Model:          input.Model,
		TokensInput:    input.Actual.TokensInput,
		TokensOutput:   input.Actual.TokensOutput,
		ChargedInput:   cost.Input,
		ChargedOutput:  cost.Output,
		ChargedTotal:   cost.Total(),
		Estimated:      input.Estimated,
		EstimateReason: input.EstimateReason,
		CreatedAt:      time.Now().UTC(),
	}); sinkErr != nil {
		p.logger.Error("usage sink write failed",
			"reference_id", input.ReferenceID, "error", sinkErr)
	}

	return entry, nil
}

// Abort releases the hold after a failed or canceled request.
func (p *Preflight) Abort(ctx context.Context, walletID, referenceID, referenceType string) error {
	_, err := p.wallets.ReleaseHold(ctx, walletID, referenceID, referenceType)
	return err
}
