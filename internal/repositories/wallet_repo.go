package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalletRepo is the org message-credit ledger consulted before publish.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Balance returns the org's remaining message credits. A missing wallet row
// reads as zero balance.
func (r *WalletRepo) Balance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM org_wallets WHERE org_id = $1
	`, orgID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit atomically deducts credits, refusing to go negative. Returns false
// when the balance is insufficient.
func (r *WalletRepo) Debit(ctx context.Context, orgID uuid.UUID, amount int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE org_wallets SET balance = balance - $1, updated_at = now()
		WHERE org_id = $2 AND balance >= $1
	`, amount, orgID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *WalletRepo) Credit(ctx context.Context, orgID uuid.UUID, amount int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO org_wallets (org_id, balance) VALUES ($1, $2)
		ON CONFLICT (org_id) DO UPDATE SET balance = org_wallets.balance + $2, updated_at = now()
	`, orgID, amount)
	return err
}
