package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payment statuses as reported by the processor.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Webhook event types.
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentCanceled          = "payment.canceled"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
)

// ExpectedStatus maps each webhook event type to the payment status the
// processor must report for the event to be trusted.
var ExpectedStatus = map[string]string{
	EventPaymentSucceeded:         StatusSucceeded,
	EventPaymentCanceled:          StatusCanceled,
	EventPaymentWaitingForCapture: StatusWaitingForCapture,
}

// Payment is the processor's view of a payment, normalized to kopeks.
type Payment struct {
	ID              string
	Status          string
	Paid            bool
	AmountKopeks    int64
	Currency        string
	ConfirmationURL string
	PaymentMethodID string
	Metadata        map[string]string
}

// CreatePaymentInput describes a payment to initiate with the processor.
type CreatePaymentInput struct {
	AmountKopeks      int64
	Currency          string
	Description       string
	ReturnURL         string
	IdempotencyKey    string
	Metadata          map[string]string
	SavePaymentMethod bool
	// PaymentMethodID triggers a merchant-initiated charge against a saved
	// method instead of a redirect flow.
	PaymentMethodID string
}

// Client is the outbound connector to the payment processor. Balance
// decisions are never made from webhook bodies alone; GetPayment is the
// source of truth.
type Client interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
	VerifyWebhook(body []byte, signature string) bool
}

// WebhookEvent is the parsed body of a processor notification.
type WebhookEvent struct {
	Type      string
	PaymentID string
	Payment   Payment
}

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type wirePayment struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Paid          bool              `json:"paid"`
	Amount        wireAmount        `json:"amount"`
	Confirmation  *wireConfirmation `json:"confirmation"`
	PaymentMethod *wireMethod       `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

type wireConfirmation struct {
	ConfirmationURL string `json:"confirmation_url"`
}

type wireMethod struct {
	ID    string `json:"id"`
	Saved bool   `json:"saved"`
}

type wireEvent struct {
	Event  string      `json:"event"`
	Object wirePayment `json:"object"`
}

// ParseWebhook decodes a notification body. It validates shape only;
// callers must still confirm the payment with GetPayment.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var raw wireEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	payment, err := fromWirePayment(raw.Object)
	if err != nil {
		return WebhookEvent{}, err
	}
	return WebhookEvent{
		Type:      raw.Event,
		PaymentID: raw.Object.ID,
		Payment:   payment,
	}, nil
}

func fromWirePayment(raw wirePayment) (Payment, error) {
	p := Payment{
		ID:       raw.ID,
		Status:   raw.Status,
		Paid:     raw.Paid,
		Currency: raw.Amount.Currency,
		Metadata: raw.Metadata,
	}
	if raw.Amount.Value != "" {
		kopeks, err := kopeksFromDecimalString(raw.Amount.Value)
		if err != nil {
			return Payment{}, err
		}
		p.AmountKopeks = kopeks
	}
	if raw.Confirmation != nil {
		p.ConfirmationURL = raw.Confirmation.ConfirmationURL
	}
	if raw.PaymentMethod != nil && raw.PaymentMethod.Saved {
		p.PaymentMethodID = raw.PaymentMethod.ID
	}
	return p, nil
}

// kopeksFromDecimalString converts the processor's "12.50" wire format into
// integer kopeks.
func kopeksFromDecimalString(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	kopeks := d.Shift(2)
	if !kopeks.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-kopek precision", value)
	}
	return kopeks.IntPart(), nil
}

// decimalStringFromKopeks renders kopeks into the processor's "12.50" wire
// format.
func decimalStringFromKopeks(kopeks int64) string {
	return decimal.New(kopeks, -2).StringFixed(2)
}
