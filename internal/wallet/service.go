package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MaxAutoTopupFailures is the number of consecutive canceled auto-topup
// payments after which the breaker opens and auto-topup is disabled until a
// user re-enables it.
const MaxAutoTopupFailures = 3

// Service is the ledger engine: the only writer of wallet balances. Every
// mutation runs inside Store.Mutate, giving it an exclusive per-wallet
// critical section, and is idempotent on (reference_type, reference_id).
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds the ledger engine on top of a wallet store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// GetOrCreateWallet returns the wallet for (user, currency), creating a
// zero-balance one on first use. Wallets are never deleted.
func (s *Service) GetOrCreateWallet(ctx context.Context, userID, currency string) (Wallet, error) {
	wallet, err := s.store.GetByUser(ctx, userID, currency)
	if err == nil {
		return wallet, nil
	}
	if err != ErrWalletNotFound {
		return Wallet{}, err
	}

	now := time.Now().UTC()
	return s.store.CreateIfAbsent(ctx, Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Wallet returns wallet state by id.
func (s *Service) Wallet(ctx context.Context, walletID string) (Wallet, error) {
	return s.store.GetByID(ctx, walletID)
}

// WalletByUser returns wallet state by (user, currency).
func (s *Service) WalletByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	return s.store.GetByUser(ctx, userID, currency)
}

// Entries returns the most recent ledger entries for a wallet.
func (s *Service) Entries(ctx context.Context, walletID string, limit int) ([]LedgerEntry, error) {
	return s.store.Entries(ctx, walletID, limit)
}

// HoldInput describes a fund reservation request.
type HoldInput struct {
	WalletID       string
	Amount         int64
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	HoldExpiresAt  time.Time
}

// HoldFunds reserves funds against the wallet, drawing the included pool
// first and topup for the remainder. A replayed call for the same reference
// returns the original hold entry unchanged. Insufficient combined balance
// fails with ErrInsufficientFunds and mutates nothing.
func (s *Service) HoldFunds(ctx context.Context, input HoldInput) (LedgerEntry, error) {
	if input.Amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: hold amount must be positive", ErrInvalidAmount)
	}

	var result LedgerEntry
	err := s.store.Mutate(ctx, input.WalletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()
		resetDailyWindow(w, now)

		existing, err := tx.FindEntry(ctx, input.ReferenceType, input.ReferenceID, EntryHold)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}

		heldIncluded := min64(w.BalanceIncluded, input.Amount)
		heldTopup := min64(w.BalanceTopup, input.Amount-heldIncluded)
		if heldIncluded+heldTopup < input.Amount {
			return ErrInsufficientFunds
		}

		w.BalanceIncluded -= heldIncluded
		w.BalanceTopup -= heldTopup
		w.UpdatedAt = now

		result = LedgerEntry{
			ID:                   uuid.NewString(),
			WalletID:             w.ID,
			UserID:               w.UserID,
			Currency:             w.Currency,
			Type:                 EntryHold,
			Amount:               -input.Amount,
			BalanceIncludedAfter: w.BalanceIncluded,
			BalanceTopupAfter:    w.BalanceTopup,
			ReferenceID:          input.ReferenceID,
			ReferenceType:        input.ReferenceType,
			IdempotencyKey:       input.IdempotencyKey,
			Breakdown:            Breakdown{Included: heldIncluded, Topup: heldTopup},
			HoldExpiresAt:        input.HoldExpiresAt,
			CreatedAt:            now,
		}
		return tx.AppendEntry(ctx, result)
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return result, nil
}

// ReleaseHold restores the exact per-pool amounts drawn by the hold. It is a
// no-op when the reference was already settled (funds consumed, never
// resurrected) and idempotent when already released; the returned entry is
// nil in the settled case.
func (s *Service) ReleaseHold(ctx context.Context, walletID, referenceID, referenceType string) (*LedgerEntry, error) {
	var result *LedgerEntry
	err := s.store.Mutate(ctx, walletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()
		resetDailyWindow(w, now)

		hold, err := tx.FindEntry(ctx, referenceType, referenceID, EntryHold)
		if err != nil {
			return err
		}
		if hold == nil {
			return ErrHoldNotFound
		}

		charge, err := tx.FindEntry(ctx, referenceType, referenceID, EntryCharge)
		if err != nil {
			return err
		}
		if charge != nil {
			result = nil
			return nil
		}

		released, err := tx.FindEntry(ctx, referenceType, referenceID, EntryRelease)
		if err != nil {
			return err
		}
		if released != nil {
			result = released
			return nil
		}

		w.BalanceIncluded += hold.Breakdown.Included
		w.BalanceTopup += hold.Breakdown.Topup
		w.UpdatedAt = now

		entry := LedgerEntry{
			ID:                   uuid.NewString(),
			WalletID:             w.ID,
			UserID:               w.UserID,
			Currency:             w.Currency,
			Type:                 EntryRelease,
			Amount:               -hold.Amount,
			BalanceIncludedAfter: w.BalanceIncluded,
			BalanceTopupAfter:    w.BalanceTopup,
			ReferenceID:          referenceID,
			ReferenceType:        referenceType,
			Breakdown:            hold.Breakdown,
			CreatedAt:            now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		result = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleInput describes the final reconciliation of a hold.
type SettleInput struct {
	WalletID      string
	ReferenceID   string
	ReferenceType string
	ActualAmount  int64
	ChargedInput  int64
	ChargedOutput int64
}

// SettleHold converts a hold into a final charge. Surplus is released back
// to the pools in proportion to the original draw (floor on included,
// remainder to topup). A shortfall is debited from live balances, included
// first, and recorded as a hold_overage adjustment; the topup pool may go
// negative there as explicit debt. The zero-amount charge entry is the
// settlement marker and idempotency guard.
func (s *Service) SettleHold(ctx context.Context, input SettleInput) (LedgerEntry, error) {
	if input.ActualAmount < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: actual amount must be non-negative", ErrInvalidAmount)
	}

	var result LedgerEntry
	err := s.store.Mutate(ctx, input.WalletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()
		resetDailyWindow(w, now)

		hold, err := tx.FindEntry(ctx, input.ReferenceType, input.ReferenceID, EntryHold)
		if err != nil {
			return err
		}
		if hold == nil {
			return ErrHoldNotFound
		}

		charge, err := tx.FindEntry(ctx, input.ReferenceType, input.ReferenceID, EntryCharge)
		if err != nil {
			return err
		}
		if charge != nil {
			result = *charge
			return nil
		}

		held := -hold.Amount
		switch {
		case input.ActualAmount < held:
			surplus := held - input.ActualAmount
			relIncluded := surplus * hold.Breakdown.Included / held
			relTopup := surplus - relIncluded

			w.BalanceIncluded += relIncluded
			w.BalanceTopup += relTopup

			if err := tx.AppendEntry(ctx, LedgerEntry{
				ID:                   uuid.NewString(),
				WalletID:             w.ID,
				UserID:               w.UserID,
				Currency:             w.Currency,
				Type:                 EntryRelease,
				Amount:               surplus,
				BalanceIncludedAfter: w.BalanceIncluded,
				BalanceTopupAfter:    w.BalanceTopup,
				ReferenceID:          input.ReferenceID,
				ReferenceType:        input.ReferenceType,
				Breakdown:            Breakdown{Included: relIncluded, Topup: relTopup},
				CreatedAt:            now,
			}); err != nil {
				return err
			}

		case input.ActualAmount > held:
			// Cost was estimated before usage was known; debit the
			// shortfall from whatever is available now.
			overage := input.ActualAmount - held
			debitIncluded := min64(max64(w.BalanceIncluded, 0), overage)
			debitTopup := overage - debitIncluded

			w.BalanceIncluded -= debitIncluded
			w.BalanceTopup -= debitTopup

			meta := map[string]string{}
			if w.BalanceTopup < 0 {
				meta["debt_topup"] = strconv.FormatInt(-w.BalanceTopup, 10)
			}
			if err := tx.AppendEntry(ctx, LedgerEntry{
				ID:                   uuid.NewString(),
				WalletID:             w.ID,
				UserID:               w.UserID,
				Currency:             w.Currency,
				Type:                 EntryAdjustment,
				Amount:               -overage,
				BalanceIncludedAfter: w.BalanceIncluded,
				BalanceTopupAfter:    w.BalanceTopup,
				ReferenceID:          input.ReferenceID,
				ReferenceType:        input.ReferenceType,
				Reason:               ReasonHoldOverage,
				Breakdown:            Breakdown{Included: -debitIncluded, Topup: -debitTopup},
				Metadata:             meta,
				CreatedAt:            now,
			}); err != nil {
				return err
			}
		}

		w.DailySpent += input.ActualAmount
		w.UpdatedAt = now

		result = LedgerEntry{
			ID:                   uuid.NewString(),
			WalletID:             w.ID,
			UserID:               w.UserID,
			Currency:             w.Currency,
			Type:                 EntryCharge,
			Amount:               0,
			ChargedInput:         input.ChargedInput,
			ChargedOutput:        input.ChargedOutput,
			BalanceIncludedAfter: w.BalanceIncluded,
			BalanceTopupAfter:    w.BalanceTopup,
			ReferenceID:          input.ReferenceID,
			ReferenceType:        input.ReferenceType,
			Metadata:             map[string]string{"charged": strconv.FormatInt(input.ActualAmount, 10)},
			CreatedAt:            now,
		}
		return tx.AppendEntry(ctx, result)
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return result, nil
}

// TopupInput describes a credit to the topup pool.
type TopupInput struct {
	WalletID       string
	Amount         int64
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	ExpiresAt      time.Time
	Metadata       map[string]string
}

// ApplyTopup credits the topup pool. Included credit is never purchasable.
// Idempotent on (reference_type, reference_id).
func (s *Service) ApplyTopup(ctx context.Context, input TopupInput) (LedgerEntry, error) {
	if input.Amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: topup amount must be positive", ErrInvalidAmount)
	}

	var result LedgerEntry
	err := s.store.Mutate(ctx, input.WalletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()

		existing, err := tx.FindEntry(ctx, input.ReferenceType, input.ReferenceID, EntryTopup)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}

		w.BalanceTopup += input.Amount
		w.UpdatedAt = now

		result = LedgerEntry{
			ID:                   uuid.NewString(),
			WalletID:             w.ID,
			UserID:               w.UserID,
			Currency:             w.Currency,
			Type:                 EntryTopup,
			Amount:               input.Amount,
			BalanceIncludedAfter: w.BalanceIncluded,
			BalanceTopupAfter:    w.BalanceTopup,
			ReferenceID:          input.ReferenceID,
			ReferenceType:        input.ReferenceType,
			IdempotencyKey:       input.IdempotencyKey,
			Breakdown:            Breakdown{Topup: input.Amount},
			Metadata:             input.Metadata,
			ExpiresAt:            input.ExpiresAt,
			CreatedAt:            now,
		}
		return tx.AppendEntry(ctx, result)
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return result, nil
}

// AdjustInput describes a manual balance correction.
type AdjustInput struct {
	WalletID       string
	DeltaTopup     int64
	DeltaIncluded  int64
	Reason         string
	AdminUserID    string
	IdempotencyKey string
	ReferenceID    string
}

// ReferenceTypeAdjustment tags admin-initiated adjustment references.
const ReferenceTypeAdjustment = "admin_adjustment"

// AdjustBalances applies a manual correction to one or both pools. The call
// is idempotent first on the idempotency key, then on the reference.
func (s *Service) AdjustBalances(ctx context.Context, input AdjustInput) (LedgerEntry, error) {
	if input.Reason == "" {
		return LedgerEntry{}, fmt.Errorf("%w: reason is required", ErrInvalidAdjustment)
	}
	if input.DeltaTopup == 0 && input.DeltaIncluded == 0 {
		return LedgerEntry{}, fmt.Errorf("%w: at least one delta must be non-zero", ErrInvalidAdjustment)
	}

	var result LedgerEntry
	err := s.store.Mutate(ctx, input.WalletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()

		existing, err := tx.FindEntryByIdempotencyKey(ctx, input.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing == nil && input.ReferenceID != "" {
			existing, err = tx.FindEntry(ctx, ReferenceTypeAdjustment, input.ReferenceID, EntryAdjustment)
			if err != nil {
				return err
			}
		}
		if existing != nil {
			result = *existing
			return nil
		}

		w.BalanceTopup += input.DeltaTopup
		w.BalanceIncluded += input.DeltaIncluded
		w.UpdatedAt = now

		referenceID := input.ReferenceID
		if referenceID == "" {
			referenceID = uuid.NewString()
		}

		result = LedgerEntry{
			ID:                   uuid.NewString(),
			WalletID:             w.ID,
			UserID:               w.UserID,
			Currency:             w.Currency,
			Type:                 EntryAdjustment,
			Amount:               input.DeltaTopup + input.DeltaIncluded,
			BalanceIncludedAfter: w.BalanceIncluded,
			BalanceTopupAfter:    w.BalanceTopup,
			ReferenceID:          referenceID,
			ReferenceType:        ReferenceTypeAdjustment,
			IdempotencyKey:       input.IdempotencyKey,
			Reason:               input.Reason,
			ActorID:              input.AdminUserID,
			Breakdown:            Breakdown{Included: input.DeltaIncluded, Topup: input.DeltaTopup},
			CreatedAt:            now,
		}
		return tx.AppendEntry(ctx, result)
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	s.logger.Info("wallet adjusted",
		"wallet_id", input.WalletID,
		"delta_topup", input.DeltaTopup,
		"delta_included", input.DeltaIncluded,
		"actor", input.AdminUserID)
	return result, nil
}

// ConfigureLimits sets the per-charge and daily spending caps. Zero disables
// a cap.
func (s *Service) ConfigureLimits(ctx context.Context, walletID string, maxCharge, dailyCap int64) (Wallet, error) {
	var result Wallet
	err := s.store.Mutate(ctx, walletID, func(tx Tx) error {
		w := tx.Wallet()
		w.MaxCharge = maxCharge
		w.DailyCap = dailyCap
		w.UpdatedAt = time.Now().UTC()
		result = *w
		return nil
	})
	return result, err
}

// AutoTopupConfig carries user-facing auto-topup settings.
type AutoTopupConfig struct {
	Enabled   bool
	Threshold int64
	Amount    int64
}

// ConfigureAutoTopup updates auto-topup settings. Enabling closes the
// failure breaker again.
func (s *Service) ConfigureAutoTopup(ctx context.Context, walletID string, cfg AutoTopupConfig) (Wallet, error) {
	var result Wallet
	err := s.store.Mutate(ctx, walletID, func(tx Tx) error {
		w := tx.Wallet()
		w.AutoTopupEnabled = cfg.Enabled
		w.AutoTopupThreshold = cfg.Threshold
		w.AutoTopupAmount = cfg.Amount
		if cfg.Enabled {
			w.AutoTopupFailCount = 0
			w.AutoTopupLastFailedAt = time.Time{}
		}
		w.UpdatedAt = time.Now().UTC()
		result = *w
		return nil
	})
	return result, err
}

// RecordAutoTopupFailure increments the consecutive-failure counter and
// opens the breaker at MaxAutoTopupFailures.
func (s *Service) RecordAutoTopupFailure(ctx context.Context, walletID string) (Wallet, error) {
	var result Wallet
	err := s.store.Mutate(ctx, walletID, func(tx Tx) error {
		now := time.Now().UTC()
		w := tx.Wallet()
		w.AutoTopupFailCount++
		w.AutoTopupLastFailedAt = now
		if w.AutoTopupFailCount >= MaxAutoTopupFailures {
			w.AutoTopupEnabled = false
		}
		w.UpdatedAt = now
		result = *w
		return nil
	})
	if err != nil {
		return Wallet{}, err
	}
	if !result.AutoTopupEnabled && result.AutoTopupFailCount >= MaxAutoTopupFailures {
		s.logger.Warn("auto-topup breaker opened", "wallet_id", walletID, "fail_count", result.AutoTopupFailCount)
	}
	return result, nil
}

// ResetAutoTopupFailures clears the failure counter after a provider-observed
// success.
func (s *Service) ResetAutoTopupFailures(ctx context.Context, walletID string) (Wallet, error) {
	var result Wallet
	err := s.store.Mutate(ctx, walletID, func(tx Tx) error {
		w := tx.Wallet()
		w.AutoTopupFailCount = 0
		w.AutoTopupLastFailedAt = time.Time{}
		w.UpdatedAt = time.Now().UTC()
		result = *w
		return nil
	})
	return result, err
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
