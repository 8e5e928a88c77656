package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Channel, error) {
	var c models.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, phone_number, display_name, rate_class, status, created_at
		FROM wa_channels WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(&c.ID, &c.OrgID, &c.PhoneNumber, &c.DisplayName, &c.RateClass, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateRateClass records a provider-pushed tier change for a sending number.
func (r *ChannelRepo) UpdateRateClass(ctx context.Context, orgID, id uuid.UUID, rateClass string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE wa_channels SET rate_class = $1 WHERE id = $2 AND org_id = $3
	`, rateClass, id, orgID)
	return err
}
