package payments

import (
	"context"
	"errors"
)

// ErrPaymentNotFound occurs when no local record matches the lookup.
var ErrPaymentNotFound = errors.New("payment not found")

// Repository persists local payment records.
type Repository interface {
	Create(ctx context.Context, payment Payment) error
	GetByID(ctx context.Context, id string) (Payment, error)
	GetByProviderID(ctx context.Context, providerPaymentID string) (Payment, error)
	Update(ctx context.Context, payment Payment) error

	// HasPendingTopup reports whether a topup payment for the wallet is
	// still awaiting its outcome.
	HasPendingTopup(ctx context.Context, walletID string) (bool, error)

	// LatestSucceededMethod returns the most recently saved payment method
	// from the wallet's succeeded payments, or "" when none exists.
	LatestSucceededMethod(ctx context.Context, walletID string) (string, error)
}
