package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/wallet"
)

// ErrInvalidPackage rejects topup amounts outside the configured packages.
var ErrInvalidPackage = errors.New("invalid topup package")

// Config carries topup policy.
type Config struct {
	// Packages lists the purchasable topup amounts in kopeks. Empty means
	// any positive amount is accepted.
	Packages []int64
	Currency string
	// CreditTTL bounds how long purchased credit stays spendable; zero
	// disables expiry.
	CreditTTL time.Duration
	ReturnURL string
}

// Service creates topup payments with the processor and tracks their local
// records. Crediting the wallet happens only from webhook reconciliation.
type Service struct {
	repo     Repository
	wallets  *wallet.Service
	provider provider.Client
	cfg      Config
	logger   *slog.Logger
}

// NewService wires the payment lifecycle.
func NewService(repo Repository, wallets *wallet.Service, client provider.Client, cfg Config, logger *slog.Logger) *Service {
	return &Service{repo: repo, wallets: wallets, provider: client, cfg: cfg, logger: logger}
}

// TopupInput describes a user-initiated topup purchase.
type TopupInput struct {
	UserID         string
	AmountKopeks   int64
	IdempotencyKey string
	ReturnURL      string
}

// TopupResult is the created payment plus the redirect the user must visit.
type TopupResult struct {
	Payment         Payment
	ConfirmationURL string
}

// CreateTopup validates the package, registers a pending local record, and
// initiates the processor payment. When the wallet has auto-topup enabled the
// payment method is saved for future merchant-initiated charges.
func (s *Service) CreateTopup(ctx context.Context, input TopupInput) (TopupResult, error) {
	if !s.validPackage(input.AmountKopeks) {
		return TopupResult{}, fmt.Errorf("%w: %d", ErrInvalidPackage, input.AmountKopeks)
	}

	w, err := s.wallets.GetOrCreateWallet(ctx, input.UserID, s.cfg.Currency)
	if err != nil {
		return TopupResult{}, err
	}

	returnURL := input.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}

	now := time.Now().UTC()
	local := Payment{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		WalletID:       w.ID,
		Kind:           KindTopup,
		Status:         StatusPending,
		AmountKopeks:   input.AmountKopeks,
		Currency:       s.cfg.Currency,
		IdempotencyKey: input.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.provider.CreatePayment(ctx, provider.CreatePaymentInput{
		AmountKopeks:      input.AmountKopeks,
		Currency:          s.cfg.Currency,
		Description:       "Balance topup",
		ReturnURL:         returnURL,
		IdempotencyKey:    input.IdempotencyKey,
		SavePaymentMethod: w.AutoTopupEnabled,
		Metadata: map[string]string{
			"kind":       string(KindTopup),
			"user_id":    input.UserID,
			"wallet_id":  w.ID,
			"payment_id": local.ID,
		},
	})
	if err != nil {
		return TopupResult{}, fmt.Errorf("create processor payment: %w", err)
	}

	local.ProviderPaymentID = created.ID
	local.ProviderStatus = created.Status
	if err := s.repo.Create(ctx, local); err != nil {
		return TopupResult{}, err
	}

	s.logger.Info("topup payment created",
		"payment_id", local.ID, "provider_payment_id", created.ID,
		"wallet_id", w.ID, "amount", input.AmountKopeks)
	return TopupResult{Payment: local, ConfirmationURL: created.ConfirmationURL}, nil
}

// Get returns a local payment record by id.
func (s *Service) Get(ctx context.Context, id string) (Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// CreditTTLExpiry returns the topup credit expiry for a credit applied now,
// or the zero time when expiry is disabled.
func (s *Service) CreditTTLExpiry(now time.Time) time.Time {
	if s.cfg.CreditTTL <= 0 {
		return time.Time{}
	}
	return now.Add(s.cfg.CreditTTL)
}

func (s *Service) validPackage(amount int64) bool {
	if amount <= 0 {
		return false
	}
	if len(s.cfg.Packages) == 0 {
		return true
	}
	for _, p := range s.cfg.Packages {
		if p == amount {
			return true
		}
	}
	return false
}

// createAutoTopup initiates a merchant-initiated charge against the wallet's
// saved payment method. No redirect is involved.
func (s *Service) createAutoTopup(ctx context.Context, w wallet.Wallet, methodID, reason string) (Payment, error) {
	now := time.Now().UTC()
	local := Payment{
		ID:              uuid.NewString(),
		UserID:          w.UserID,
		WalletID:        w.ID,
		Kind:            KindTopup,
		Status:          StatusPending,
		AmountKopeks:    w.AutoTopupAmount,
		Currency:        w.Currency,
		PaymentMethodID: methodID,
		AutoTopup:       true,
		AutoTopupReason: reason,
		IdempotencyKey:  uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.provider.CreatePayment(ctx, provider.CreatePaymentInput{
		AmountKopeks:    w.AutoTopupAmount,
		Currency:        w.Currency,
		Description:     "Automatic balance topup",
		IdempotencyKey:  local.IdempotencyKey,
		PaymentMethodID: methodID,
		Metadata: map[string]string{
			"kind":       string(KindTopup),
			"user_id":    w.UserID,
			"wallet_id":  w.ID,
			"payment_id": local.ID,
			"auto_topup": "true",
			"reason":     reason,
		},
	})
	if err != nil {
		return Payment{}, err
	}

	local.ProviderPaymentID = created.ID
	local.ProviderStatus = created.Status
	if err := s.repo.Create(ctx, local); err != nil {
		return Payment{}, err
	}

	s.logger.Info("auto-topup payment created",
		"payment_id", local.ID, "provider_payment_id", created.ID,
		"wallet_id", w.ID, "amount", w.AutoTopupAmount,
		"threshold", strconv.FormatInt(w.AutoTopupThreshold, 10))
	return local, nil
}
