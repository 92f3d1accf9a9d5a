package wallet

import (
	"context"
	"time"
)

// Tx is the transactional view handed to a Mutate callback. The wallet
// returned by Wallet is locked for exclusive mutation; changes to it and any
// appended entries commit together when the callback returns nil, and are
// discarded entirely when it returns an error.
type Tx interface {
	Wallet() *Wallet
	FindEntry(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*LedgerEntry, error)
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)
	AppendEntry(ctx context.Context, entry LedgerEntry) error
}

// Store persists wallets and their append-only ledger. Implementations must
// guarantee that no two concurrent Mutate calls for the same wallet observe
// the same balance snapshot.
type Store interface {
	// CreateIfAbsent inserts the wallet unless one already exists for the
	// same (user, currency), returning whichever row won.
	CreateIfAbsent(ctx context.Context, wallet Wallet) (Wallet, error)
	GetByID(ctx context.Context, walletID string) (Wallet, error)
	GetByUser(ctx context.Context, userID, currency string) (Wallet, error)

	// Mutate runs fn inside an exclusive per-wallet critical section.
	Mutate(ctx context.Context, walletID string, fn func(tx Tx) error) error

	// Entries returns the most recent ledger entries for a wallet.
	// Committed entries are immutable and safe to read without locking.
	Entries(ctx context.Context, walletID string, limit int) ([]LedgerEntry, error)
}

const dailyWindow = 24 * time.Hour

// resetDailyWindow zeroes the daily spend counter once its window elapsed.
// Callers must hold the wallet's exclusive lock.
func resetDailyWindow(w *Wallet, now time.Time) {
	if w.DailyResetAt.IsZero() || !now.Before(w.DailyResetAt) {
		w.DailySpent = 0
		w.DailyResetAt = now.Add(dailyWindow)
	}
}
