package subscription

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/wallet"
)

var testPlans = []Plan{
	{ID: "pro-month", Name: "Pro", PriceKopeks: 99_000, Currency: "RUB", Period: PeriodMonth, IncludedCredit: 50_000},
	{ID: "pro-year", Name: "Pro Annual", PriceKopeks: 990_000, Currency: "RUB", Period: PeriodYear},
}

func newTestService(t *testing.T) (*Service, *wallet.Service) {
	t.Helper()
	wallets := wallet.NewService(wallet.NewMemoryStore(), slog.Default())
	svc := NewService(NewMemoryStore(), NewStaticPlanResolver(testPlans), wallets,
		provider.NewStaticClient(), "https://example.test/return", slog.Default())
	return svc, wallets
}

func TestCreateCheckoutUnknownPlan(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateCheckout(context.Background(), "user-1", "ghost", "")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestCreateCheckoutRegistersPendingTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateCheckout(ctx, "user-1", "pro-month", "")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.ConfirmationURL == "" {
		t.Fatalf("expected confirmation url")
	}
	if result.Transaction.Status != StatusPending {
		t.Fatalf("expected pending transaction, got %s", result.Transaction.Status)
	}

	stored, err := svc.Transaction(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.ProviderPaymentID == "" || stored.AmountKopeks != 99_000 {
		t.Fatalf("unexpected stored transaction: %+v", stored)
	}
}

func TestMarkSucceededActivatesAndGrantsCredit(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateCheckout(ctx, "user-1", "pro-month", "")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if err := svc.MarkSucceeded(ctx, result.Transaction, "succeeded"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	sub, ok, err := svc.Current(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected active subscription, ok=%v err=%v", ok, err)
	}
	if !sub.Active(time.Now().UTC()) {
		t.Fatalf("subscription must be active")
	}

	w, err := wallets.WalletByUser(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.BalanceIncluded != 50_000 {
		t.Fatalf("expected included grant 50000, got %d", w.BalanceIncluded)
	}

	// A replayed success must not double-grant or double-extend.
	txn, _ := svc.Transaction(ctx, result.Transaction.ID)
	if err := svc.MarkSucceeded(ctx, txn, "succeeded"); err != nil {
		t.Fatalf("replayed mark succeeded: %v", err)
	}
	w, _ = wallets.WalletByUser(ctx, "user-1", "RUB")
	if w.BalanceIncluded != 50_000 {
		t.Fatalf("replay must not double-grant, got %d", w.BalanceIncluded)
	}
}

func TestRenewalExtendsFromPeriodEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateCheckout(ctx, "user-1", "pro-year", "")
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if err := svc.MarkSucceeded(ctx, first.Transaction, "succeeded"); err != nil {
		t.Fatalf("first success: %v", err)
	}
	sub1, _, _ := svc.Current(ctx, "user-1")

	second, err := svc.CreateCheckout(ctx, "user-1", "pro-year", "")
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if err := svc.MarkSucceeded(ctx, second.Transaction, "succeeded"); err != nil {
		t.Fatalf("second success: %v", err)
	}
	sub2, _, _ := svc.Current(ctx, "user-1")

	if got := sub2.PeriodEnd.Sub(sub1.PeriodEnd); got != 365*24*time.Hour {
		t.Fatalf("renewal must extend from the current period end, got extension %v", got)
	}
}

func TestMarkCanceled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateCheckout(ctx, "user-1", "pro-month", "")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if err := svc.MarkCanceled(ctx, result.Transaction, "canceled"); err != nil {
		t.Fatalf("mark canceled: %v", err)
	}

	txn, _ := svc.Transaction(ctx, result.Transaction.ID)
	if txn.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", txn.Status)
	}
	if _, ok, _ := svc.Current(ctx, "user-1"); ok {
		t.Fatalf("canceled checkout must not activate a subscription")
	}
}
