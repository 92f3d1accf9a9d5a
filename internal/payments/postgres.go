package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists payment records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed payment store.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, user_id, wallet_id, kind, status, amount_kopeks, currency,
	provider_payment_id, provider_status, payment_method_id, idempotency_key,
	auto_topup, auto_topup_reason, metadata, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, p Payment) error {
	metadata, err := marshalPaymentMetadata(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO billing_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.UserID, p.WalletID, string(p.Kind), string(p.Status), p.AmountKopeks, p.Currency,
		p.ProviderPaymentID, p.ProviderStatus, p.PaymentMethodID, p.IdempotencyKey,
		p.AutoTopup, p.AutoTopupReason, metadata, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM billing_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *PostgresRepository) GetByProviderID(ctx context.Context, providerPaymentID string) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM billing_payments
		WHERE provider_payment_id = $1`, providerPaymentID)
	return scanPayment(row)
}

func (r *PostgresRepository) Update(ctx context.Context, p Payment) error {
	metadata, err := marshalPaymentMetadata(p.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE billing_payments SET
			status = $2, provider_payment_id = $3, provider_status = $4,
			payment_method_id = $5, metadata = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, string(p.Status), p.ProviderPaymentID, p.ProviderStatus,
		p.PaymentMethodID, metadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresRepository) HasPendingTopup(ctx context.Context, walletID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM billing_payments
		WHERE wallet_id = $1 AND kind = $2 AND status = $3)`,
		walletID, string(KindTopup), string(StatusPending)).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) LatestSucceededMethod(ctx context.Context, walletID string) (string, error) {
	var method string
	err := r.db.QueryRow(ctx, `SELECT payment_method_id FROM billing_payments
		WHERE wallet_id = $1 AND status = $2 AND payment_method_id <> ''
		ORDER BY updated_at DESC LIMIT 1`,
		walletID, string(StatusSucceeded)).Scan(&method)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return method, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var kind, status string
	var metadata []byte
	err := row.Scan(&p.ID, &p.UserID, &p.WalletID, &kind, &status, &p.AmountKopeks, &p.Currency,
		&p.ProviderPaymentID, &p.ProviderStatus, &p.PaymentMethodID, &p.IdempotencyKey,
		&p.AutoTopup, &p.AutoTopupReason, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	p.Kind = Kind(kind)
	p.Status = Status(status)
	return p, nil
}

func marshalPaymentMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode payment metadata: %w", err)
	}
	return payload, nil
}
