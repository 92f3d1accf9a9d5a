package payments

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu         sync.RWMutex
	payments   map[string]Payment
	byProvider map[string]string
}

// NewMemoryRepository creates a concurrency-safe in-memory payment store for
// single-node use and unit tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		payments:   make(map[string]Payment),
		byProvider: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, payment Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[payment.ID] = payment
	if payment.ProviderPaymentID != "" {
		r.byProvider[payment.ProviderPaymentID] = payment.ID
	}
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return payment, nil
}

func (r *memoryRepository) GetByProviderID(_ context.Context, providerPaymentID string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byProvider[providerPaymentID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return r.payments[id], nil
}

func (r *memoryRepository) Update(_ context.Context, payment Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.ID]; !ok {
		return ErrPaymentNotFound
	}
	r.payments[payment.ID] = payment
	if payment.ProviderPaymentID != "" {
		r.byProvider[payment.ProviderPaymentID] = payment.ID
	}
	return nil
}

func (r *memoryRepository) HasPendingTopup(_ context.Context, walletID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.WalletID == walletID && p.Kind == KindTopup && p.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) LatestSucceededMethod(_ context.Context, walletID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Payment
	for _, p := range r.payments {
		if p.WalletID != walletID || p.Status != StatusSucceeded || p.PaymentMethodID == "" {
			continue
		}
		if best.ID == "" || p.UpdatedAt.After(best.UpdatedAt) {
			best = p
		}
	}
	return best.PaymentMethodID, nil
}
