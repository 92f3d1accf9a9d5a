package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/wallet"
)

type failingClient struct{}

func (failingClient) CreatePayment(context.Context, provider.CreatePaymentInput) (provider.Payment, error) {
	return provider.Payment{}, &provider.RequestError{StatusCode: 402, Code: "insufficient_funds"}
}

func (failingClient) GetPayment(context.Context, string) (provider.Payment, error) {
	return provider.Payment{}, &provider.RequestError{StatusCode: 404, Code: "not_found"}
}

func (failingClient) VerifyWebhook([]byte, string) bool { return true }

func newTestStack(t *testing.T, client provider.Client) (*Service, *wallet.Service, Repository) {
	t.Helper()
	wallets := wallet.NewService(wallet.NewMemoryStore(), slog.Default())
	repo := NewMemoryRepository()
	svc := NewService(repo, wallets, client, Config{
		Packages: []int64{10_000, 50_000, 100_000},
		Currency: "RUB",
	}, slog.Default())
	return svc, wallets, repo
}

func TestCreateTopupValidatesPackage(t *testing.T) {
	svc, _, _ := newTestStack(t, provider.NewStaticClient())

	_, err := svc.CreateTopup(context.Background(), TopupInput{
		UserID: "user-1", AmountKopeks: 12_345,
	})
	if !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("expected ErrInvalidPackage, got %v", err)
	}
}

func TestCreateTopupRegistersPendingPayment(t *testing.T) {
	svc, wallets, repo := newTestStack(t, provider.NewStaticClient())
	ctx := context.Background()

	result, err := svc.CreateTopup(ctx, TopupInput{
		UserID: "user-1", AmountKopeks: 50_000, IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	if result.ConfirmationURL == "" {
		t.Fatalf("expected confirmation url")
	}
	if result.Payment.Status != StatusPending || result.Payment.Kind != KindTopup {
		t.Fatalf("expected pending topup record, got %+v", result.Payment)
	}
	if result.Payment.ProviderPaymentID == "" {
		t.Fatalf("expected provider payment id on local record")
	}

	stored, err := repo.GetByProviderID(ctx, result.Payment.ProviderPaymentID)
	if err != nil {
		t.Fatalf("get by provider id: %v", err)
	}
	if stored.ID != result.Payment.ID {
		t.Fatalf("expected stored record %s, got %s", result.Payment.ID, stored.ID)
	}

	// Creating a topup never credits the wallet directly.
	w, err := wallets.WalletByUser(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Available() != 0 {
		t.Fatalf("topup creation must not credit the wallet, got %d", w.Available())
	}
}

func configureAutoTopup(t *testing.T, wallets *wallet.Service, walletID string) {
	t.Helper()
	if _, err := wallets.ConfigureAutoTopup(context.Background(), walletID, wallet.AutoTopupConfig{
		Enabled: true, Threshold: 5_000, Amount: 10_000,
	}); err != nil {
		t.Fatalf("configure auto-topup: %v", err)
	}
}

func TestAutoTopupGuards(t *testing.T) {
	svc, wallets, _ := newTestStack(t, provider.NewStaticClient())
	ctx := context.Background()

	if got := svc.MaybeTriggerAutoTopup(ctx, "missing", "low_balance"); got.Status != AutoTopupWalletMissing {
		t.Fatalf("expected wallet_missing, got %+v", got)
	}

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance"); got.Status != AutoTopupDisabled {
		t.Fatalf("expected disabled, got %+v", got)
	}

	if _, err := wallets.ConfigureAutoTopup(ctx, w.ID, wallet.AutoTopupConfig{Enabled: true}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance"); got.Status != AutoTopupMissingConfig {
		t.Fatalf("expected missing_config, got %+v", got)
	}

	configureAutoTopup(t, wallets, w.ID)
	if _, err := wallets.ApplyTopup(ctx, wallet.TopupInput{
		WalletID: w.ID, Amount: 6_000, ReferenceID: "seed", ReferenceType: "payment",
	}); err != nil {
		t.Fatalf("seed topup: %v", err)
	}
	if got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance"); got.Status != AutoTopupAboveThreshold {
		t.Fatalf("expected above_threshold, got %+v", got)
	}
}

func TestAutoTopupMissingPaymentMethodCountsAsFailure(t *testing.T) {
	svc, wallets, _ := newTestStack(t, provider.NewStaticClient())
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	configureAutoTopup(t, wallets, w.ID)

	got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance")
	if !got.Attempted || got.Status != AutoTopupMissingPaymentMethod {
		t.Fatalf("expected attempted missing_payment_method, got %+v", got)
	}

	after, _ := wallets.Wallet(ctx, w.ID)
	if after.AutoTopupFailCount != 1 {
		t.Fatalf("expected fail count 1, got %d", after.AutoTopupFailCount)
	}
}

func TestAutoTopupCreatesChargeWithSavedMethod(t *testing.T) {
	svc, wallets, repo := newTestStack(t, provider.NewStaticClient())
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	configureAutoTopup(t, wallets, w.ID)

	now := time.Now().UTC()
	if err := repo.Create(ctx, Payment{
		ID: "prev", UserID: "user-1", WalletID: w.ID,
		Kind: KindTopup, Status: StatusSucceeded,
		PaymentMethodID: "pm-saved", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance")
	if !got.Attempted || got.Status != AutoTopupCreated || got.PaymentID == "" {
		t.Fatalf("expected created, got %+v", got)
	}

	created, err := repo.GetByID(ctx, got.PaymentID)
	if err != nil {
		t.Fatalf("get created payment: %v", err)
	}
	if !created.AutoTopup || created.PaymentMethodID != "pm-saved" || created.AmountKopeks != 10_000 {
		t.Fatalf("unexpected auto-topup record: %+v", created)
	}
	if created.Status != StatusPending {
		t.Fatalf("auto-topup stays pending until the webhook confirms, got %s", created.Status)
	}
}

func TestAutoTopupSkipsWhilePending(t *testing.T) {
	svc, wallets, repo := newTestStack(t, provider.NewStaticClient())
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	configureAutoTopup(t, wallets, w.ID)

	now := time.Now().UTC()
	if err := repo.Create(ctx, Payment{
		ID: "inflight", UserID: "user-1", WalletID: w.ID,
		Kind: KindTopup, Status: StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	if got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance"); got.Status != AutoTopupPending {
		t.Fatalf("expected pending, got %+v", got)
	}
}

func TestAutoTopupBreakerOpensAfterProviderFailures(t *testing.T) {
	svc, wallets, repo := newTestStack(t, failingClient{})
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	configureAutoTopup(t, wallets, w.ID)

	now := time.Now().UTC()
	if err := repo.Create(ctx, Payment{
		ID: "prev", UserID: "user-1", WalletID: w.ID,
		Kind: KindTopup, Status: StatusSucceeded,
		PaymentMethodID: "pm-saved", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	for i := 0; i < wallet.MaxAutoTopupFailures; i++ {
		got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance")
		if !got.Attempted || got.Status != AutoTopupFailed {
			t.Fatalf("attempt %d: expected failed, got %+v", i, got)
		}
	}

	after, _ := wallets.Wallet(ctx, w.ID)
	if after.AutoTopupEnabled {
		t.Fatalf("breaker must disable auto-topup after %d failures", wallet.MaxAutoTopupFailures)
	}

	if got := svc.MaybeTriggerAutoTopup(ctx, w.ID, "low_balance"); got.Status != AutoTopupDisabled {
		t.Fatalf("expected disabled after breaker opened, got %+v", got)
	}
}
