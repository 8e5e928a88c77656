package repositories

import (
	"context"
	"errors"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OverviewRepo manages the per-(org, branch) counter aggregate. The row is
// shared by every campaign of the pair, so all mutations are upsert-style
// atomic increments.
type OverviewRepo struct {
	pool *pgxpool.Pool
}

func NewOverviewRepo(pool *pgxpool.Pool) *OverviewRepo {
	return &OverviewRepo{pool: pool}
}

// EnsureExists lazily creates the overview row on first campaign creation
// for the pair and counts the campaign in.
func (r *OverviewRepo) EnsureExists(ctx context.Context, orgID, branchID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_overviews (org_id, branch_id, campaigns_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (org_id, branch_id)
		DO UPDATE SET campaigns_count = campaign_overviews.campaigns_count + 1, updated_at = now()
	`, orgID, branchID)
	return err
}

// AddRecipients folds a newly published campaign's audience into the
// aggregate.
func (r *OverviewRepo) AddRecipients(ctx context.Context, orgID, branchID uuid.UUID, recipients int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_overviews (org_id, branch_id, recipients_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, branch_id)
		DO UPDATE SET recipients_count = campaign_overviews.recipients_count + $3, updated_at = now()
	`, orgID, branchID, recipients)
	return err
}

func (r *OverviewRepo) AddEnqueued(ctx context.Context, orgID, branchID uuid.UUID, by int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_overviews (org_id, branch_id, enqueued_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, branch_id)
		DO UPDATE SET enqueued_count = campaign_overviews.enqueued_count + $3, updated_at = now()
	`, orgID, branchID, by)
	return err
}

func (r *OverviewRepo) Get(ctx context.Context, orgID, branchID uuid.UUID) (*models.CampaignOverview, error) {
	var o models.CampaignOverview
	err := r.pool.QueryRow(ctx, `
		SELECT org_id, branch_id, campaigns_count, recipients_count, enqueued_count,
		       sent_count, delivered_count, read_count, failed_count, clicked_count,
		       replied_count, updated_at
		FROM campaign_overviews WHERE org_id = $1 AND branch_id = $2
	`, orgID, branchID).Scan(&o.OrgID, &o.BranchID, &o.Campaigns,
		&o.Counters.Recipients, &o.Counters.Enqueued, &o.Counters.Sent, &o.Counters.Delivered,
		&o.Counters.Read, &o.Counters.Failed, &o.Counters.Clicked, &o.Counters.Replied,
		&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No campaigns yet for the pair: an empty aggregate, not an error.
		return &models.CampaignOverview{OrgID: orgID, BranchID: branchID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
