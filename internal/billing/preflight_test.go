package billing

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/usage"
	"github.com/meterpay/meterpay/internal/wallet"
)

var testRates = NewStaticRateResolver(map[string]Rate{
	"gpt-large": {InputPerThousand: 100, OutputPerThousand: 300},
}, Rate{InputPerThousand: 50, OutputPerThousand: 100})

func newPreflight(t *testing.T) (*Preflight, *wallet.Service) {
	t.Helper()
	logger := slog.Default()
	wallets := wallet.NewService(wallet.NewMemoryStore(), logger)
	paymentsSvc := payments.NewService(payments.NewMemoryRepository(), wallets,
		provider.NewStaticClient(), payments.Config{Currency: "RUB"}, logger)
	return NewPreflight(wallets, paymentsSvc, testRates, usage.NewLoggerSink(logger), 0, logger), wallets
}

func TestPriceRoundsUpPerClass(t *testing.T) {
	cost := Price(Rate{InputPerThousand: 100, OutputPerThousand: 300}, Units{
		TokensInput: 1_005, TokensOutput: 10,
	})
	// 1005*100/1000 = 100.5 -> 101; 10*300/1000 = 3.
	if cost.Input != 101 || cost.Output != 3 {
		t.Fatalf("expected 101/3, got %d/%d", cost.Input, cost.Output)
	}
	if cost.Total() != 104 {
		t.Fatalf("expected total 104, got %d", cost.Total())
	}
}

func TestAuthorizeHoldsEstimate(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := wallet.SeedBalances(ctx, wallets, w.ID, 1_000, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	auth, err := pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	// 2000*100/1000 + 1000*300/1000 = 200 + 300 = 500.
	if auth.Estimate.Total() != 500 {
		t.Fatalf("expected estimate 500, got %d", auth.Estimate.Total())
	}
	if auth.HoldEntry.Amount != -500 {
		t.Fatalf("expected hold of 500, got %d", auth.HoldEntry.Amount)
	}
}

func TestAuthorizeInsufficientFundsTriggersAutoTopup(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	if _, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	_, err := pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	var payErr *PaymentRequiredError
	if !errors.As(err, &payErr) {
		t.Fatalf("expected PaymentRequiredError, got %v", err)
	}
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected wrapped ErrInsufficientFunds, got %v", err)
	}
	if payErr.AutoTopup.Status != payments.AutoTopupDisabled {
		t.Fatalf("expected auto-topup disabled status, got %+v", payErr.AutoTopup)
	}
}

func TestAuthorizeRejectsAboveMaxCharge(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := wallets.ConfigureLimits(ctx, w.ID, 100, 0); err != nil {
		t.Fatalf("configure caps: %v", err)
	}
	if err := wallet.SeedBalances(ctx, wallets, w.ID, 10_000, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	if !errors.Is(err, ErrChargeLimitExceeded) {
		t.Fatalf("expected ErrChargeLimitExceeded, got %v", err)
	}

	after, _ := wallets.Wallet(ctx, w.ID)
	if after.BalanceIncluded != 10_000 {
		t.Fatalf("cap rejection must not move balances, got %d", after.BalanceIncluded)
	}
}

func TestAuthorizeRejectsAboveDailyCap(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := wallets.ConfigureLimits(ctx, w.ID, 0, 300); err != nil {
		t.Fatalf("configure caps: %v", err)
	}
	if err := wallet.SeedBalances(ctx, wallets, w.ID, 10_000, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	if !errors.Is(err, ErrChargeLimitExceeded) {
		t.Fatalf("expected ErrChargeLimitExceeded, got %v", err)
	}
}

func TestSettlePricesActualUnits(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := wallet.SeedBalances(ctx, wallets, w.ID, 1_000, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	auth, err := pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Actual usage was lower: 1000 in, 500 out -> 100 + 150 = 250.
	entry, err := pf.Settle(ctx, SettleInput{
		UserID: "user-1", WalletID: auth.WalletID, Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Actual: Units{TokensInput: 1_000, TokensOutput: 500},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if entry.ChargedInput != 100 || entry.ChargedOutput != 150 {
		t.Fatalf("expected charge split 100/150, got %d/%d", entry.ChargedInput, entry.ChargedOutput)
	}

	after, _ := wallets.Wallet(ctx, w.ID)
	if after.Available() != 750 {
		t.Fatalf("expected 750 left, got %d", after.Available())
	}
	if after.DailySpent != 250 {
		t.Fatalf("expected daily spent 250, got %d", after.DailySpent)
	}
}

func TestAbortReleasesHold(t *testing.T) {
	pf, wallets := newPreflight(t)
	ctx := context.Background()

	w, err := wallets.GetOrCreateWallet(ctx, "user-1", "RUB")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := wallet.SeedBalances(ctx, wallets, w.ID, 1_000, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	auth, err := pf.Authorize(ctx, AuthorizeInput{
		UserID: "user-1", Currency: "RUB", Model: "gpt-large",
		ReferenceID: "req-1", ReferenceType: "chat_completion",
		Estimated: Units{TokensInput: 2_000, TokensOutput: 1_000},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if err := pf.Abort(ctx, auth.WalletID, "req-1", "chat_completion"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	after, _ := wallets.Wallet(ctx, w.ID)
	if after.Available() != 1_000 {
		t.Fatalf("abort must restore the full hold, got %d", after.Available())
	}
}
