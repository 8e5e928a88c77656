package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// counterColumns whitelists the counter column per delivery status. Counter
// updates are always atomic in-place increments, never read-modify-write.
var counterColumns = map[string]string{
	models.DeliveryStatusSent:      "sent_count",
	models.DeliveryStatusDelivered: "delivered_count",
	models.DeliveryStatusRead:      "read_count",
	models.DeliveryStatusFailed:    "failed_count",
	models.DeliveryStatusClicked:   "clicked_count",
	models.DeliveryStatusReplied:   "replied_count",
}

func CounterColumn(status string) (string, bool) {
	col, ok := counterColumns[status]
	return col, ok
}

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `
	id, org_id, branch_id, title, channel_id, template, audience_category, audience_ref,
	scheduled_at, ends_at, utc_offset_min, delay_ms, retry_enabled, status,
	recipients_count, enqueued_count, sent_count, delivered_count, read_count,
	failed_count, clicked_count, replied_count, completed_at, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.OrgID, &c.BranchID, &c.Title, &c.ChannelID, &c.Template,
		&c.AudienceCategory, &c.AudienceRef, &c.ScheduledAt, &c.EndsAt, &c.UTCOffsetMin,
		&c.DelayMs, &c.RetryEnabled, &c.Status,
		&c.Counters.Recipients, &c.Counters.Enqueued, &c.Counters.Sent, &c.Counters.Delivered,
		&c.Counters.Read, &c.Counters.Failed, &c.Counters.Clicked, &c.Counters.Replied,
		&c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (org_id, branch_id, title, channel_id, template, audience_category,
		       audience_ref, scheduled_at, ends_at, utc_offset_min, delay_ms, retry_enabled, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, c.OrgID, c.BranchID, c.Title, c.ChannelID, c.Template, c.AudienceCategory,
		c.AudienceRef, c.ScheduledAt, c.EndsAt, c.UTCOffsetMin, c.DelayMs, c.RetryEnabled, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepo) GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE id = $1 AND org_id = $2 AND branch_id = $3
	`, id, orgID, branchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.CampaignNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetForExecution loads a campaign by id alone. Worker-side lookups carry no
// org scope; the campaign row itself supplies it.
func (r *CampaignRepo) GetForExecution(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.CampaignNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateDefinition rewrites the editable fields of a draft.
func (r *CampaignRepo) UpdateDefinition(ctx context.Context, c *models.Campaign) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET title = $1, channel_id = $2, template = $3, audience_category = $4,
		       audience_ref = $5, scheduled_at = $6, ends_at = $7, utc_offset_min = $8,
		       delay_ms = $9, retry_enabled = $10, updated_at = now()
		WHERE id = $11 AND org_id = $12 AND branch_id = $13 AND status = 'draft'
	`, c.Title, c.ChannelID, c.Template, c.AudienceCategory, c.AudienceRef,
		c.ScheduledAt, c.EndsAt, c.UTCOffsetMin, c.DelayMs, c.RetryEnabled,
		c.ID, c.OrgID, c.BranchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s not editable: %w", c.ID, apperrors.ErrAlreadyScheduled)
	}
	return nil
}

// SetAudience records the resolved audience size and recomputed start delay
// at publish time.
func (r *CampaignRepo) SetAudience(ctx context.Context, id uuid.UUID, recipients int, delayMs int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET recipients_count = $1, delay_ms = $2, updated_at = now()
		WHERE id = $3
	`, recipients, delayMs, id)
	return err
}

// TransitionStatus performs a single conditional state transition. Returns
// false when the campaign was not in any of the from statuses: racing
// callers observe exactly one winner.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	var tag string
	switch to {
	case models.CampaignStatusCompleted:
		tag = `UPDATE campaigns SET status = $1, completed_at = now(), updated_at = now()
		       WHERE id = $2 AND status = ANY($3)`
	default:
		tag = `UPDATE campaigns SET status = $1, updated_at = now()
		       WHERE id = $2 AND status = ANY($3)`
	}
	res, err := r.pool.Exec(ctx, tag, to, id, from)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

type CampaignFilter struct {
	Status   *string
	Category *string
	Limit    int
	Offset   int
}

func (r *CampaignRepo) List(ctx context.Context, orgID, branchID uuid.UUID, f CampaignFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE org_id = $1 AND branch_id = $2`
	args := []any{orgID, branchID}
	argIdx := 3

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Category != nil {
		query += fmt.Sprintf(" AND audience_category = $%d", argIdx)
		args = append(args, *f.Category)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// Delete removes a campaign and (via FK cascade) its batches and outbound
// messages. Only drafts and terminal campaigns can be deleted.
func (r *CampaignRepo) Delete(ctx context.Context, orgID, branchID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM campaigns
		WHERE id = $1 AND org_id = $2 AND branch_id = $3
		  AND status IN ('draft', 'completed', 'cancelled', 'failed')
	`, id, orgID, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s not deletable: %w", id, apperrors.ErrAlreadyScheduled)
	}
	return nil
}

// IncrementEnqueued bumps the enqueued tally as the worker creates outbound
// messages.
func (r *CampaignRepo) IncrementEnqueued(ctx context.Context, id uuid.UUID, by int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET enqueued_count = enqueued_count + $1, updated_at = now()
		WHERE id = $2
	`, by, id)
	return err
}

// ApplyDeliveryIncrement bumps the campaign counter and the (org, branch)
// overview counter for one delivery status in a single transaction, so the
// two can never be observed out of step. Returns the updated campaign
// counters.
func (r *CampaignRepo) ApplyDeliveryIncrement(ctx context.Context, campaignID uuid.UUID, status string) (*models.CampaignCounters, error) {
	column, ok := CounterColumn(status)
	if !ok {
		return nil, fmt.Errorf("no counter for delivery status %q", status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var orgID, branchID uuid.UUID
	var counters models.CampaignCounters
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE campaigns SET %s = %s + 1, updated_at = now()
		WHERE id = $1
		RETURNING org_id, branch_id,
		          recipients_count, enqueued_count, sent_count, delivered_count,
		          read_count, failed_count, clicked_count, replied_count
	`, column, column), campaignID).Scan(&orgID, &branchID,
		&counters.Recipients, &counters.Enqueued, &counters.Sent, &counters.Delivered,
		&counters.Read, &counters.Failed, &counters.Clicked, &counters.Replied)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.CampaignNotFound(campaignID)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO campaign_overviews (org_id, branch_id, %s)
		VALUES ($1, $2, 1)
		ON CONFLICT (org_id, branch_id)
		DO UPDATE SET %s = campaign_overviews.%s + 1, updated_at = now()
	`, column, column, column), orgID, branchID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &counters, nil
}
