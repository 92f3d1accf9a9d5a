package payments

import "time"

// Status is the local lifecycle of a payment record. It mirrors, but never
// substitutes for, the processor's status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Kind distinguishes what a payment pays for.
type Kind string

const (
	KindTopup        Kind = "topup"
	KindSubscription Kind = "subscription"
)

// Payment is the local record of a processor payment.
type Payment struct {
	ID       string
	UserID   string
	WalletID string

	Kind         Kind
	Status       Status
	AmountKopeks int64
	Currency     string

	ProviderPaymentID string
	ProviderStatus    string
	PaymentMethodID   string
	IdempotencyKey    string

	// AutoTopup marks merchant-initiated payments created by the breaker
	// flow rather than a user action.
	AutoTopup       bool
	AutoTopupReason string

	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}
