package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/subscription"
	"github.com/meterpay/meterpay/internal/wallet"
)

// Processor reconciles processor notifications against local state. The
// webhook body only names the payment; every balance decision re-reads the
// payment from the processor first.
type Processor struct {
	provider      provider.Client
	payments      payments.Repository
	paymentsSvc   *payments.Service
	wallets       *wallet.Service
	subscriptions *subscription.Service
	logger        *slog.Logger
}

// NewProcessor wires webhook reconciliation.
func NewProcessor(client provider.Client, repo payments.Repository, paymentsSvc *payments.Service,
	wallets *wallet.Service, subscriptions *subscription.Service, logger *slog.Logger) *Processor {
	return &Processor{
		provider:      client,
		payments:      repo,
		paymentsSvc:   paymentsSvc,
		wallets:       wallets,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// Process handles one parsed notification. The returned error classifies the
// outcome: ErrVerification for rejects, ErrRetryable for transient states,
// nil once the event is fully absorbed.
func (p *Processor) Process(ctx context.Context, event provider.WebhookEvent) error {
	if event.Type == "" || event.PaymentID == "" {
		return fmt.Errorf("%w: missing event type or payment id", ErrVerification)
	}
	expected, known := provider.ExpectedStatus[event.Type]
	if !known {
		p.logger.Info("ignoring unhandled webhook event", "event", event.Type)
		return nil
	}

	// Provider truth: never trust the notification body.
	confirmed, err := p.provider.GetPayment(ctx, event.PaymentID)
	if err != nil {
		return fmt.Errorf("%w: confirm payment %s: %v", ErrRetryable, event.PaymentID, err)
	}
	if confirmed.Status != expected {
		// The processor's state lags or diverges from the event; let it
		// redeliver once they agree.
		return fmt.Errorf("%w: payment %s status %q, event expects %q",
			ErrRetryable, event.PaymentID, confirmed.Status, expected)
	}
	if confirmed.Status == provider.StatusSucceeded && !confirmed.Paid {
		return fmt.Errorf("%w: payment %s succeeded but not paid", ErrRetryable, event.PaymentID)
	}

	switch confirmed.Metadata["kind"] {
	case "subscription":
		return p.processSubscription(ctx, confirmed)
	default:
		return p.processTopup(ctx, confirmed)
	}
}

func (p *Processor) processTopup(ctx context.Context, confirmed provider.Payment) error {
	local, err := p.payments.GetByProviderID(ctx, confirmed.ID)
	if errors.Is(err, payments.ErrPaymentNotFound) {
		// Payment created out-of-band, for example from an older deploy.
		// Reconstruct the local record from the confirmed metadata.
		local, err = p.adoptPayment(ctx, confirmed)
	}
	if err != nil {
		return err
	}

	switch confirmed.Status {
	case provider.StatusSucceeded:
		return p.creditTopup(ctx, local, confirmed)
	case provider.StatusCanceled:
		return p.cancelTopup(ctx, local, confirmed)
	case provider.StatusWaitingForCapture:
		local.ProviderStatus = confirmed.Status
		return p.payments.Update(ctx, local)
	default:
		return nil
	}
}

func (p *Processor) creditTopup(ctx context.Context, local payments.Payment, confirmed provider.Payment) error {
	if local.Status == payments.StatusSucceeded {
		return nil
	}

	now := time.Now().UTC()
	if _, err := p.wallets.ApplyTopup(ctx, wallet.TopupInput{
		WalletID:       local.WalletID,
		Amount:         confirmed.AmountKopeks,
		ReferenceID:    confirmed.ID,
		ReferenceType:  "payment",
		IdempotencyKey: local.ID,
		ExpiresAt:      p.paymentsSvc.CreditTTLExpiry(now),
		Metadata: map[string]string{
			"provider_payment_id": confirmed.ID,
			"auto_topup":          fmt.Sprintf("%t", local.AutoTopup),
		},
	}); err != nil {
		return err
	}

	local.Status = payments.StatusSucceeded
	local.ProviderStatus = confirmed.Status
	if confirmed.PaymentMethodID != "" {
		local.PaymentMethodID = confirmed.PaymentMethodID
	}
	if err := p.payments.Update(ctx, local); err != nil {
		return err
	}

	if _, err := p.wallets.ResetAutoTopupFailures(ctx, local.WalletID); err != nil {
		p.logger.Error("reset auto-topup failures", "wallet_id", local.WalletID, "error", err)
	}

	p.logger.Info("topup credited",
		"payment_id", local.ID, "provider_payment_id", confirmed.ID,
		"wallet_id", local.WalletID, "amount", confirmed.AmountKopeks)
	return nil
}

func (p *Processor) cancelTopup(ctx context.Context, local payments.Payment, confirmed provider.Payment) error {
	if local.Status == payments.StatusCanceled {
		return nil
	}
	local.Status = payments.StatusCanceled
	local.ProviderStatus = confirmed.Status
	if err := p.payments.Update(ctx, local); err != nil {
		return err
	}

	if local.AutoTopup {
		if _, err := p.wallets.RecordAutoTopupFailure(ctx, local.WalletID); err != nil {
			p.logger.Error("record auto-topup failure", "wallet_id", local.WalletID, "error", err)
		}
	}

	p.logger.Info("topup canceled",
		"payment_id", local.ID, "provider_payment_id", confirmed.ID, "auto_topup", local.AutoTopup)
	return nil
}

// adoptPayment builds a local record for a confirmed payment we never saw
// created. Requires wallet routing metadata.
func (p *Processor) adoptPayment(ctx context.Context, confirmed provider.Payment) (payments.Payment, error) {
	userID := confirmed.Metadata["user_id"]
	walletID := confirmed.Metadata["wallet_id"]
	if userID == "" || walletID == "" {
		return payments.Payment{}, fmt.Errorf("%w: payment %s has no local record and no routing metadata",
			ErrVerification, confirmed.ID)
	}

	now := time.Now().UTC()
	local := payments.Payment{
		ID:                uuid.NewString(),
		UserID:            userID,
		WalletID:          walletID,
		Kind:              payments.KindTopup,
		Status:            payments.StatusPending,
		AmountKopeks:      confirmed.AmountKopeks,
		Currency:          confirmed.Currency,
		ProviderPaymentID: confirmed.ID,
		ProviderStatus:    confirmed.Status,
		AutoTopup:         confirmed.Metadata["auto_topup"] == "true",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.payments.Create(ctx, local); err != nil {
		return payments.Payment{}, err
	}
	p.logger.Warn("adopted unknown processor payment",
		"provider_payment_id", confirmed.ID, "wallet_id", walletID)
	return local, nil
}

func (p *Processor) processSubscription(ctx context.Context, confirmed provider.Payment) error {
	transactionID := confirmed.Metadata["transaction_id"]
	if transactionID == "" {
		p.logger.Warn("subscription payment without transaction metadata", "provider_payment_id", confirmed.ID)
		return nil
	}

	txn, err := p.subscriptions.Transaction(ctx, transactionID)
	if errors.Is(err, subscription.ErrTransactionNotFound) {
		p.logger.Warn("subscription transaction not found",
			"transaction_id", transactionID, "provider_payment_id", confirmed.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if txn.ProviderPaymentID != "" && txn.ProviderPaymentID != confirmed.ID {
		return fmt.Errorf("%w: transaction %s belongs to payment %s, event names %s",
			ErrVerification, txn.ID, txn.ProviderPaymentID, confirmed.ID)
	}

	switch confirmed.Status {
	case provider.StatusSucceeded:
		return p.subscriptions.MarkSucceeded(ctx, txn, confirmed.Status)
	case provider.StatusCanceled:
		return p.subscriptions.MarkCanceled(ctx, txn, confirmed.Status)
	case provider.StatusWaitingForCapture:
		return p.subscriptions.MarkProviderStatus(ctx, txn, confirmed.Status)
	default:
		return nil
	}
}

// Reconcile lets a user force reconciliation of their own payment without
// waiting for a webhook delivery. It verifies ownership before acting.
func (p *Processor) Reconcile(ctx context.Context, userID, providerPaymentID string) (payments.Payment, error) {
	local, err := p.payments.GetByProviderID(ctx, providerPaymentID)
	if err != nil {
		return payments.Payment{}, err
	}
	if local.UserID != userID {
		return payments.Payment{}, fmt.Errorf("%w: payment %s does not belong to caller",
			ErrVerification, providerPaymentID)
	}

	confirmed, err := p.provider.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return payments.Payment{}, fmt.Errorf("%w: confirm payment: %v", ErrRetryable, err)
	}

	switch confirmed.Status {
	case provider.StatusSucceeded:
		if !confirmed.Paid {
			return payments.Payment{}, fmt.Errorf("%w: payment succeeded but not paid", ErrRetryable)
		}
		if err := p.creditTopup(ctx, local, confirmed); err != nil {
			return payments.Payment{}, err
		}
	case provider.StatusCanceled:
		if err := p.cancelTopup(ctx, local, confirmed); err != nil {
			return payments.Payment{}, err
		}
	default:
		local.ProviderStatus = confirmed.Status
		if err := p.payments.Update(ctx, local); err != nil {
			return payments.Payment{}, err
		}
	}
	return p.payments.GetByProviderID(ctx, providerPaymentID)
}

// Replayed reports whether this event's outcome was already absorbed, so the
// handler can acknowledge without re-confirming with the processor.
func (p *Processor) Replayed(ctx context.Context, event provider.WebhookEvent) bool {
	if event.Payment.Metadata["kind"] == "subscription" {
		transactionID := event.Payment.Metadata["transaction_id"]
		if transactionID == "" {
			return false
		}
		txn, err := p.subscriptions.Transaction(ctx, transactionID)
		if err != nil {
			return false
		}
		switch event.Type {
		case provider.EventPaymentSucceeded:
			return txn.Status == subscription.StatusSucceeded
		case provider.EventPaymentCanceled:
			return txn.Status == subscription.StatusCanceled
		}
		return false
	}

	local, err := p.payments.GetByProviderID(ctx, event.PaymentID)
	if err != nil {
		return false
	}
	switch event.Type {
	case provider.EventPaymentSucceeded:
		return local.Status == payments.StatusSucceeded
	case provider.EventPaymentCanceled:
		return local.Status == payments.StatusCanceled
	}
	return false
}
