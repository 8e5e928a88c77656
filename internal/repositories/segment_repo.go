package repositories

import (
	"context"
	"errors"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SegmentRepo struct {
	pool *pgxpool.Pool
}

func NewSegmentRepo(pool *pgxpool.Pool) *SegmentRepo {
	return &SegmentRepo{pool: pool}
}

func (r *SegmentRepo) GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Segment, error) {
	var s models.Segment
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, branch_id, name, rules, created_at, updated_at
		FROM segments WHERE id = $1 AND org_id = $2 AND branch_id = $3
	`, id, orgID, branchID).Scan(&s.ID, &s.OrgID, &s.BranchID, &s.Name, &s.Rules, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.SegmentNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
