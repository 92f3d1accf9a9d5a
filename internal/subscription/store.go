package subscription

import "context"

// Store persists checkout transactions and subscription state.
type Store interface {
	CreateTransaction(ctx context.Context, txn Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	UpdateTransaction(ctx context.Context, txn Transaction) error

	GetSubscription(ctx context.Context, userID string) (Subscription, bool, error)
	UpsertSubscription(ctx context.Context, sub Subscription) error
}
