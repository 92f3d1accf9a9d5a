package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/wallet"
)

const (
	monthPeriod = 30 * 24 * time.Hour
	yearPeriod  = 365 * 24 * time.Hour
)

// Service sells plan subscriptions through the payment processor and grants
// included credit on renewal.
type Service struct {
	store    Store
	plans    PlanResolver
	wallets  *wallet.Service
	provider provider.Client
	logger   *slog.Logger

	returnURL string
}

// NewService wires the subscription checkout flow.
func NewService(store Store, plans PlanResolver, wallets *wallet.Service, client provider.Client, returnURL string, logger *slog.Logger) *Service {
	return &Service{
		store: store, plans: plans, wallets: wallets,
		provider: client, returnURL: returnURL, logger: logger,
	}
}

// CheckoutResult is the created transaction plus the redirect to complete it.
type CheckoutResult struct {
	Transaction     Transaction
	ConfirmationURL string
}

// CreateCheckout registers a pending transaction and initiates a processor
// payment carrying enough metadata for the webhook to route it back here.
func (s *Service) CreateCheckout(ctx context.Context, userID, planID, returnURL string) (CheckoutResult, error) {
	plan, err := s.plans.Resolve(planID)
	if err != nil {
		return CheckoutResult{}, err
	}

	if returnURL == "" {
		returnURL = s.returnURL
	}

	now := time.Now().UTC()
	txn := Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		PlanID:       plan.ID,
		Status:       StatusPending,
		AmountKopeks: plan.PriceKopeks,
		Currency:     plan.Currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.provider.CreatePayment(ctx, provider.CreatePaymentInput{
		AmountKopeks:   plan.PriceKopeks,
		Currency:       plan.Currency,
		Description:    fmt.Sprintf("Subscription: %s", plan.Name),
		ReturnURL:      returnURL,
		IdempotencyKey: txn.ID,
		Metadata: map[string]string{
			"kind":           "subscription",
			"user_id":        userID,
			"plan_id":        plan.ID,
			"transaction_id": txn.ID,
		},
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("create processor payment: %w", err)
	}

	txn.ProviderPaymentID = created.ID
	txn.ProviderStatus = created.Status
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return CheckoutResult{}, err
	}

	s.logger.Info("subscription checkout created",
		"transaction_id", txn.ID, "provider_payment_id", created.ID,
		"plan_id", plan.ID, "user_id", userID)
	return CheckoutResult{Transaction: txn, ConfirmationURL: created.ConfirmationURL}, nil
}

// Transaction returns a checkout transaction by id.
func (s *Service) Transaction(ctx context.Context, id string) (Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// Current returns the user's subscription, if any.
func (s *Service) Current(ctx context.Context, userID string) (Subscription, bool, error) {
	return s.store.GetSubscription(ctx, userID)
}

// MarkSucceeded finalizes the transaction and activates or renews the plan.
// Already-succeeded transactions are left untouched.
func (s *Service) MarkSucceeded(ctx context.Context, txn Transaction, providerStatus string) error {
	if txn.Status == StatusSucceeded {
		return nil
	}
	txn.Status = StatusSucceeded
	txn.ProviderStatus = providerStatus
	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return err
	}
	return s.createOrRenew(ctx, txn)
}

// MarkCanceled records a canceled checkout.
func (s *Service) MarkCanceled(ctx context.Context, txn Transaction, providerStatus string) error {
	if txn.Status == StatusCanceled {
		return nil
	}
	txn.Status = StatusCanceled
	txn.ProviderStatus = providerStatus
	return s.store.UpdateTransaction(ctx, txn)
}

// MarkProviderStatus updates only the processor-reported status.
func (s *Service) MarkProviderStatus(ctx context.Context, txn Transaction, providerStatus string) error {
	txn.ProviderStatus = providerStatus
	return s.store.UpdateTransaction(ctx, txn)
}

// createOrRenew extends the subscription period. Renewal before expiry
// extends from the current period end; after expiry the new period starts
// now. Included credit is granted through the ledger, keyed on the
// transaction so replays cannot double-grant.
func (s *Service) createOrRenew(ctx context.Context, txn Transaction) error {
	plan, err := s.plans.Resolve(txn.PlanID)
	if err != nil {
		return err
	}

	period := monthPeriod
	if plan.Period == PeriodYear {
		period = yearPeriod
	}

	now := time.Now().UTC()
	sub, exists, err := s.store.GetSubscription(ctx, txn.UserID)
	if err != nil {
		return err
	}

	base := now
	if exists && sub.PeriodEnd.After(now) {
		base = sub.PeriodEnd
	}
	if !exists {
		sub = Subscription{ID: uuid.NewString(), UserID: txn.UserID, CreatedAt: now}
		sub.PeriodStart = now
	}
	sub.PlanID = plan.ID
	sub.PeriodEnd = base.Add(period)
	sub.UpdatedAt = now

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	if plan.IncludedCredit > 0 {
		w, err := s.wallets.GetOrCreateWallet(ctx, txn.UserID, plan.Currency)
		if err != nil {
			return err
		}
		if _, err := s.wallets.AdjustBalances(ctx, wallet.AdjustInput{
			WalletID:      w.ID,
			DeltaIncluded: plan.IncludedCredit,
			Reason:        "subscription_grant",
			ReferenceID:   txn.ID,
		}); err != nil {
			return err
		}
	}

	s.logger.Info("subscription renewed",
		"user_id", txn.UserID, "plan_id", plan.ID, "period_end", sub.PeriodEnd)
	return nil
}
