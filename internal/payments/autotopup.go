package payments

import (
	"context"
	"errors"

	"github.com/meterpay/meterpay/internal/wallet"
)

// Auto-topup trigger outcomes, most specific reason first.
const (
	AutoTopupWalletMissing        = "wallet_missing"
	AutoTopupDisabled             = "disabled"
	AutoTopupMissingConfig        = "missing_config"
	AutoTopupAboveThreshold       = "above_threshold"
	AutoTopupFailLimit            = "fail_limit"
	AutoTopupPending              = "pending"
	AutoTopupInvalidAmount        = "invalid_amount"
	AutoTopupMissingPaymentMethod = "missing_payment_method"
	AutoTopupCreated              = "created"
	AutoTopupFailed               = "failed"
)

// AutoTopupResult reports what the trigger decided. Attempted is true only
// once all preconditions passed and a charge was actually tried.
type AutoTopupResult struct {
	Attempted bool
	Status    string
	PaymentID string
	Message   string
}

// MaybeTriggerAutoTopup charges the wallet's saved payment method when the
// available balance fell to or below the configured threshold. Each guard
// short-circuits without touching the processor; only a missing payment
// method or a processor rejection counts as an attempt for the failure
// breaker.
func (s *Service) MaybeTriggerAutoTopup(ctx context.Context, walletID, reason string) AutoTopupResult {
	w, err := s.wallets.Wallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return AutoTopupResult{Status: AutoTopupWalletMissing}
		}
		return AutoTopupResult{Status: AutoTopupFailed, Message: err.Error()}
	}

	if !w.AutoTopupEnabled {
		return AutoTopupResult{Status: AutoTopupDisabled}
	}
	if w.AutoTopupThreshold <= 0 || w.AutoTopupAmount <= 0 {
		return AutoTopupResult{Status: AutoTopupMissingConfig}
	}
	if w.Available() > w.AutoTopupThreshold {
		return AutoTopupResult{Status: AutoTopupAboveThreshold}
	}
	if w.AutoTopupFailCount >= wallet.MaxAutoTopupFailures {
		// The breaker should already have disabled auto-topup; disable
		// again in case the counter was raised elsewhere.
		if _, err := s.wallets.ConfigureAutoTopup(ctx, walletID, wallet.AutoTopupConfig{
			Enabled: false, Threshold: w.AutoTopupThreshold, Amount: w.AutoTopupAmount,
		}); err != nil {
			s.logger.Error("disable auto-topup", "wallet_id", walletID, "error", err)
		}
		return AutoTopupResult{Status: AutoTopupFailLimit}
	}

	pending, err := s.repo.HasPendingTopup(ctx, walletID)
	if err != nil {
		return AutoTopupResult{Status: AutoTopupFailed, Message: err.Error()}
	}
	if pending {
		return AutoTopupResult{Status: AutoTopupPending}
	}

	if !s.validPackage(w.AutoTopupAmount) {
		return AutoTopupResult{Status: AutoTopupInvalidAmount}
	}

	methodID, err := s.repo.LatestSucceededMethod(ctx, walletID)
	if err != nil {
		return AutoTopupResult{Status: AutoTopupFailed, Message: err.Error()}
	}
	if methodID == "" {
		if _, err := s.wallets.RecordAutoTopupFailure(ctx, walletID); err != nil {
			s.logger.Error("record auto-topup failure", "wallet_id", walletID, "error", err)
		}
		return AutoTopupResult{Attempted: true, Status: AutoTopupMissingPaymentMethod}
	}

	payment, err := s.createAutoTopup(ctx, w, methodID, reason)
	if err != nil {
		if _, recErr := s.wallets.RecordAutoTopupFailure(ctx, walletID); recErr != nil {
			s.logger.Error("record auto-topup failure", "wallet_id", walletID, "error", recErr)
		}
		return AutoTopupResult{Attempted: true, Status: AutoTopupFailed, Message: err.Error()}
	}
	return AutoTopupResult{Attempted: true, Status: AutoTopupCreated, PaymentID: payment.ID}
}
