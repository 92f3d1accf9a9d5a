package wallet

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*memoryWallet
	byUser  map[string]string
}

type memoryWallet struct {
	mu      sync.Mutex
	wallet  Wallet
	entries []LedgerEntry
}

// NewMemoryStore creates a concurrency-safe in-memory store. The per-wallet
// mutex provides the exclusive-mutation guarantee for single-node use and
// unit tests.
func NewMemoryStore() Store {
	return &memoryStore{
		wallets: make(map[string]*memoryWallet),
		byUser:  make(map[string]string),
	}
}

func userKey(userID, currency string) string {
	return userID + "|" + currency
}

func (s *memoryStore) CreateIfAbsent(_ context.Context, wallet Wallet) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[userKey(wallet.UserID, wallet.Currency)]; ok {
		return s.wallets[id].wallet, nil
	}
	s.wallets[wallet.ID] = &memoryWallet{wallet: wallet}
	s.byUser[userKey(wallet.UserID, wallet.Currency)] = wallet.ID
	return wallet, nil
}

func (s *memoryStore) GetByID(_ context.Context, walletID string) (Wallet, error) {
	s.mu.RLock()
	rec, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.wallet, nil
}

func (s *memoryStore) GetByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	s.mu.RLock()
	id, ok := s.byUser[userKey(userID, currency)]
	s.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *memoryStore) Mutate(ctx context.Context, walletID string, fn func(tx Tx) error) error {
	s.mu.RLock()
	rec, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return ErrWalletNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	tx := &memoryTx{rec: rec, wallet: rec.wallet}
	if err := fn(tx); err != nil {
		return err
	}

	rec.wallet = tx.wallet
	rec.entries = append(rec.entries, tx.pending...)
	return nil
}

func (s *memoryStore) Entries(_ context.Context, walletID string, limit int) ([]LedgerEntry, error) {
	s.mu.RLock()
	rec, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrWalletNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]LedgerEntry, 0, limit)
	for i := len(rec.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rec.entries[i])
	}
	return out, nil
}

type memoryTx struct {
	rec     *memoryWallet
	wallet  Wallet
	pending []LedgerEntry
}

func (t *memoryTx) Wallet() *Wallet { return &t.wallet }

func (t *memoryTx) FindEntry(_ context.Context, referenceType, referenceID string, entryType EntryType) (*LedgerEntry, error) {
	for i := range t.pending {
		e := t.pending[i]
		if e.ReferenceType == referenceType && e.ReferenceID == referenceID && e.Type == entryType {
			return &e, nil
		}
	}
	for i := range t.rec.entries {
		e := t.rec.entries[i]
		if e.ReferenceType == referenceType && e.ReferenceID == referenceID && e.Type == entryType {
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) FindEntryByIdempotencyKey(_ context.Context, key string) (*LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	for i := range t.rec.entries {
		e := t.rec.entries[i]
		if e.IdempotencyKey == key {
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) AppendEntry(_ context.Context, entry LedgerEntry) error {
	t.pending = append(t.pending, entry)
	return nil
}
