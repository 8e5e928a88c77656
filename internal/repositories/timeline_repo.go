package repositories

import (
	"context"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineRepo is the append-only campaign audit trail. Callers treat writes
// as best-effort: errors are logged, never propagated into the business
// operation they describe.
type TimelineRepo struct {
	pool *pgxpool.Pool
}

func NewTimelineRepo(pool *pgxpool.Pool) *TimelineRepo {
	return &TimelineRepo{pool: pool}
}

func (r *TimelineRepo) Record(ctx context.Context, entry models.TimelineEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_timeline (org_id, actor_type, action, campaign_id, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.OrgID, entry.ActorType, entry.Action, entry.CampaignID, entry.Meta)
	return err
}

func (r *TimelineRepo) GetByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, actor_type, action, campaign_id, meta, created_at
		FROM campaign_timeline WHERE campaign_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorType, &e.Action, &e.CampaignID, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
