package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StaticClient simulates the processor for local development and tests.
// Created payments succeed immediately and are served back by GetPayment.
type StaticClient struct {
	mu       sync.Mutex
	payments map[string]Payment
}

// NewStaticClient builds an empty simulated processor.
func NewStaticClient() *StaticClient {
	return &StaticClient{payments: make(map[string]Payment)}
}

func (c *StaticClient) CreatePayment(_ context.Context, input CreatePaymentInput) (Payment, error) {
	payment := Payment{
		ID:              uuid.NewString(),
		Status:          StatusSucceeded,
		Paid:            true,
		AmountKopeks:    input.AmountKopeks,
		Currency:        input.Currency,
		ConfirmationURL: "https://example.test/confirm",
		Metadata:        input.Metadata,
	}
	if input.SavePaymentMethod || input.PaymentMethodID != "" {
		payment.PaymentMethodID = uuid.NewString()
	}
	c.mu.Lock()
	c.payments[payment.ID] = payment
	c.mu.Unlock()
	return payment, nil
}

func (c *StaticClient) GetPayment(_ context.Context, paymentID string) (Payment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if payment, ok := c.payments[paymentID]; ok {
		return payment, nil
	}
	return Payment{}, &RequestError{StatusCode: 404, Code: "not_found"}
}

func (c *StaticClient) VerifyWebhook([]byte, string) bool { return true }
