package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists subscription state in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed subscription store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, user_id, plan_id, status, amount_kopeks, currency,
	provider_payment_id, provider_status, created_at, updated_at`

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn Transaction) error {
	_, err := s.db.Exec(ctx, `INSERT INTO billing_subscription_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.UserID, txn.PlanID, txn.Status, txn.AmountKopeks, txn.Currency,
		txn.ProviderPaymentID, txn.ProviderStatus, txn.CreatedAt.UTC(), txn.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var txn Transaction
	err := s.db.QueryRow(ctx, `SELECT `+transactionColumns+`
		FROM billing_subscription_transactions WHERE id = $1`, id).Scan(
		&txn.ID, &txn.UserID, &txn.PlanID, &txn.Status, &txn.AmountKopeks, &txn.Currency,
		&txn.ProviderPaymentID, &txn.ProviderStatus, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, txn Transaction) error {
	tag, err := s.db.Exec(ctx, `UPDATE billing_subscription_transactions SET
			status = $2, provider_payment_id = $3, provider_status = $4, updated_at = $5
		WHERE id = $1`,
		txn.ID, txn.Status, txn.ProviderPaymentID, txn.ProviderStatus, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (Subscription, bool, error) {
	var sub Subscription
	err := s.db.QueryRow(ctx, `SELECT id, user_id, plan_id, period_start, period_end, created_at, updated_at
		FROM billing_subscriptions WHERE user_id = $1`, userID).Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PeriodStart, &sub.PeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.Exec(ctx, `INSERT INTO billing_subscriptions
			(id, user_id, plan_id, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.PlanID,
		sub.PeriodStart.UTC(), sub.PeriodEnd.UTC(), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
