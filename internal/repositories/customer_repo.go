package repositories

import (
	"context"
	"fmt"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

// CountByLists counts customers whose list memberships intersect the given
// contact-list ids.
func (r *CustomerRepo) CountByLists(ctx context.Context, orgID, branchID uuid.UUID, listIDs []uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM customers
		WHERE org_id = $1 AND branch_id = $2 AND list_ids && $3
	`, orgID, branchID, listIDs).Scan(&count)
	return count, err
}

// CountByQuery counts customers matching a compiled segment predicate. The
// where fragment's placeholders start at $3.
func (r *CustomerRepo) CountByQuery(ctx context.Context, orgID, branchID uuid.UUID, where string, args []any) (int, error) {
	query := `SELECT COUNT(*) FROM customers WHERE org_id = $1 AND branch_id = $2 AND (` + where + `)`
	var count int
	err := r.pool.QueryRow(ctx, query, append([]any{orgID, branchID}, args...)...).Scan(&count)
	return count, err
}

const customerColumns = `id, org_id, branch_id, phone, name, list_ids, attributes, created_at`

func (r *CustomerRepo) scanCustomers(ctx context.Context, query string, args ...any) ([]models.Customer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.OrgID, &c.BranchID, &c.Phone, &c.Name,
			&c.ListIDs, &c.Attributes, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// WindowByIDs pages a manual audience: the batch's [start, end) window over
// the explicit recipient ids, in stable id order.
func (r *CustomerRepo) WindowByIDs(ctx context.Context, orgID, branchID uuid.UUID, ids []uuid.UUID, start, end int) ([]models.Customer, error) {
	return r.scanCustomers(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE org_id = $1 AND branch_id = $2 AND id = ANY($3)
		ORDER BY id LIMIT $4 OFFSET $5
	`, orgID, branchID, ids, end-start, start)
}

// WindowByLists pages a list audience with the same ordering the count ran
// against.
func (r *CustomerRepo) WindowByLists(ctx context.Context, orgID, branchID uuid.UUID, listIDs []uuid.UUID, start, end int) ([]models.Customer, error) {
	return r.scanCustomers(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE org_id = $1 AND branch_id = $2 AND list_ids && $3
		ORDER BY id LIMIT $4 OFFSET $5
	`, orgID, branchID, listIDs, end-start, start)
}

// WindowByQuery pages a segment audience using the compiled predicate. The
// where fragment's placeholders start at $3; limit and offset follow the
// fragment's own args.
func (r *CustomerRepo) WindowByQuery(ctx context.Context, orgID, branchID uuid.UUID, where string, args []any, start, end int) ([]models.Customer, error) {
	full := append([]any{orgID, branchID}, args...)
	limitIdx := len(full) + 1
	query := fmt.Sprintf(`SELECT `+customerColumns+` FROM customers
		WHERE org_id = $1 AND branch_id = $2 AND (%s)
		ORDER BY id LIMIT $%d OFFSET $%d`, where, limitIdx, limitIdx+1)
	full = append(full, end-start, start)
	return r.scanCustomers(ctx, query, full...)
}
