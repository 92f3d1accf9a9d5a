package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallets and ledger entries in PostgreSQL. Exclusive
// mutation is provided by SELECT ... FOR UPDATE on the wallet row.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed wallet store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, user_id, currency, balance_topup, balance_included,
	max_charge, daily_cap, daily_spent, daily_reset_at,
	auto_topup_enabled, auto_topup_threshold, auto_topup_amount,
	auto_topup_fail_count, auto_topup_last_failed_at, created_at, updated_at`

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, wallet Wallet) (Wallet, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO billing_wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, currency) DO NOTHING`,
		wallet.ID, wallet.UserID, wallet.Currency,
		wallet.BalanceTopup, wallet.BalanceIncluded,
		wallet.MaxCharge, wallet.DailyCap, wallet.DailySpent, nullTime(wallet.DailyResetAt),
		wallet.AutoTopupEnabled, wallet.AutoTopupThreshold, wallet.AutoTopupAmount,
		wallet.AutoTopupFailCount, nullTime(wallet.AutoTopupLastFailedAt),
		wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	if err != nil {
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return s.GetByUser(ctx, wallet.UserID, wallet.Currency)
}

func (s *PostgresStore) GetByID(ctx context.Context, walletID string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM billing_wallets WHERE id = $1`, walletID)
	return scanWallet(row)
}

func (s *PostgresStore) GetByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM billing_wallets
		WHERE user_id = $1 AND currency = $2`, userID, currency)
	return scanWallet(row)
}

func (s *PostgresStore) Mutate(ctx context.Context, walletID string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM billing_wallets
		WHERE id = $1 FOR UPDATE`, walletID)
	wallet, err := scanWallet(row)
	if err != nil {
		return err
	}

	wtx := &pgWalletTx{tx: tx, wallet: wallet}
	if err := fn(wtx); err != nil {
		return err
	}

	w := wtx.wallet
	if _, err := tx.Exec(ctx, `UPDATE billing_wallets SET
			balance_topup = $2, balance_included = $3,
			max_charge = $4, daily_cap = $5, daily_spent = $6, daily_reset_at = $7,
			auto_topup_enabled = $8, auto_topup_threshold = $9, auto_topup_amount = $10,
			auto_topup_fail_count = $11, auto_topup_last_failed_at = $12, updated_at = $13
		WHERE id = $1`,
		w.ID, w.BalanceTopup, w.BalanceIncluded,
		w.MaxCharge, w.DailyCap, w.DailySpent, nullTime(w.DailyResetAt),
		w.AutoTopupEnabled, w.AutoTopupThreshold, w.AutoTopupAmount,
		w.AutoTopupFailCount, nullTime(w.AutoTopupLastFailedAt), w.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}

	return tx.Commit(ctx)
}

const entryColumns = `id, wallet_id, user_id, currency, type, amount,
	charged_input, charged_output, balance_included_after, balance_topup_after,
	reference_id, reference_type, idempotency_key,
	breakdown_included, breakdown_topup, reason, actor_id, metadata,
	hold_expires_at, expires_at, created_at`

func (s *PostgresStore) Entries(ctx context.Context, walletID string, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM billing_ledger_entries
		WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type pgWalletTx struct {
	tx     pgx.Tx
	wallet Wallet
}

func (t *pgWalletTx) Wallet() *Wallet { return &t.wallet }

func (t *pgWalletTx) FindEntry(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*LedgerEntry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM billing_ledger_entries
		WHERE reference_type = $1 AND reference_id = $2 AND type = $3`,
		referenceType, referenceID, string(entryType))
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *pgWalletTx) FindEntryByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM billing_ledger_entries
		WHERE idempotency_key = $1`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *pgWalletTx) AppendEntry(ctx context.Context, entry LedgerEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO billing_ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		entry.ID, entry.WalletID, entry.UserID, entry.Currency, string(entry.Type), entry.Amount,
		entry.ChargedInput, entry.ChargedOutput, entry.BalanceIncludedAfter, entry.BalanceTopupAfter,
		entry.ReferenceID, entry.ReferenceType, nullString(entry.IdempotencyKey),
		entry.Breakdown.Included, entry.Breakdown.Topup, entry.Reason, entry.ActorID, metadata,
		nullTime(entry.HoldExpiresAt), nullTime(entry.ExpiresAt), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var dailyResetAt, lastFailedAt *time.Time
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.BalanceTopup, &w.BalanceIncluded,
		&w.MaxCharge, &w.DailyCap, &w.DailySpent, &dailyResetAt,
		&w.AutoTopupEnabled, &w.AutoTopupThreshold, &w.AutoTopupAmount,
		&w.AutoTopupFailCount, &lastFailedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return Wallet{}, err
	}
	w.DailyResetAt = fromNullTime(dailyResetAt)
	w.AutoTopupLastFailedAt = fromNullTime(lastFailedAt)
	return w, nil
}

func scanEntry(row pgx.Row) (LedgerEntry, error) {
	var e LedgerEntry
	var entryType string
	var idempotencyKey *string
	var metadata []byte
	var holdExpiresAt, expiresAt *time.Time
	err := row.Scan(&e.ID, &e.WalletID, &e.UserID, &e.Currency, &entryType, &e.Amount,
		&e.ChargedInput, &e.ChargedOutput, &e.BalanceIncludedAfter, &e.BalanceTopupAfter,
		&e.ReferenceID, &e.ReferenceType, &idempotencyKey,
		&e.Breakdown.Included, &e.Breakdown.Topup, &e.Reason, &e.ActorID, &metadata,
		&holdExpiresAt, &expiresAt, &e.CreatedAt)
	if err != nil {
		return LedgerEntry{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return LedgerEntry{}, fmt.Errorf("decode entry metadata: %w", err)
		}
	}
	e.Type = EntryType(entryType)
	if idempotencyKey != nil {
		e.IdempotencyKey = *idempotencyKey
	}
	e.HoldExpiresAt = fromNullTime(holdExpiresAt)
	e.ExpiresAt = fromNullTime(expiresAt)
	return e, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode entry metadata: %w", err)
	}
	return payload, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
