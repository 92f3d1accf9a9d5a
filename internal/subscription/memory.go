package subscription

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu            sync.RWMutex
	transactions  map[string]Transaction
	subscriptions map[string]Subscription
}

// NewMemoryStore creates an in-memory store for single-node use and unit
// tests.
func NewMemoryStore() Store {
	return &memoryStore{
		transactions:  make(map[string]Transaction),
		subscriptions: make(map[string]Subscription),
	}
}

func (s *memoryStore) CreateTransaction(_ context.Context, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[txn.ID] = txn
	return nil
}

func (s *memoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *memoryStore) UpdateTransaction(_ context.Context, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.ID]; !ok {
		return ErrTransactionNotFound
	}
	s.transactions[txn.ID] = txn
	return nil
}

func (s *memoryStore) GetSubscription(_ context.Context, userID string) (Subscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	return sub, ok, nil
}

func (s *memoryStore) UpsertSubscription(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.UserID] = sub
	return nil
}
