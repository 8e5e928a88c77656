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

// BatchRepo stores batches as independent rows keyed by
// (campaign_id, batch_number), so concurrent updates to different batches of
// one campaign never contend on a shared document.
type BatchRepo struct {
	pool *pgxpool.Pool
}

func NewBatchRepo(pool *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{pool: pool}
}

const batchColumns = `
	campaign_id, batch_number, start_id, end_id, customer_count, job_id, job_name,
	queue_name, delay_ms, max_attempts, status, processed_customers, error,
	enqueued_at, completed_at, failed_at, created_at, updated_at`

func (r *BatchRepo) CreateBatch(ctx context.Context, b *models.Batch) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaign_batches (campaign_id, batch_number, start_id, end_id, customer_count,
		       job_id, job_name, queue_name, delay_ms, max_attempts, status, error, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, b.CampaignID, b.BatchNumber, b.StartID, b.EndID, b.CustomerCount,
		b.JobID, b.JobName, b.QueueName, b.DelayMs, b.MaxAttempts, b.Status, b.Error, b.EnqueuedAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BatchRepo) GetByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Batch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM campaign_batches WHERE campaign_id = $1
		ORDER BY batch_number
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.CampaignID, &b.BatchNumber, &b.StartID, &b.EndID, &b.CustomerCount,
			&b.JobID, &b.JobName, &b.QueueName, &b.DelayMs, &b.MaxAttempts, &b.Status,
			&b.ProcessedCustomers, &b.Error, &b.EnqueuedAt, &b.CompletedAt, &b.FailedAt,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// BatchStatusUpdate carries the fields written for one reported status.
// Only the fields relevant to the status are applied: completed_at on
// completed, failed_at and error on failed.
type BatchStatusUpdate struct {
	Status             string
	ProcessedCustomers *int
	Error              *string
}

func (r *BatchRepo) UpdateStatus(ctx context.Context, campaignID uuid.UUID, batchNumber int, update BatchStatusUpdate) error {
	var query string
	args := []any{update.Status, campaignID, batchNumber}

	switch update.Status {
	case models.BatchStatusCompleted:
		query = `UPDATE campaign_batches
		         SET status = $1, completed_at = now(), processed_customers = COALESCE($4, processed_customers), updated_at = now()
		         WHERE campaign_id = $2 AND batch_number = $3`
		args = append(args, update.ProcessedCustomers)
	case models.BatchStatusFailed:
		query = `UPDATE campaign_batches
		         SET status = $1, failed_at = now(), error = $4, processed_customers = COALESCE($5, processed_customers), updated_at = now()
		         WHERE campaign_id = $2 AND batch_number = $3`
		args = append(args, update.Error, update.ProcessedCustomers)
	case models.BatchStatusInProgress, models.BatchStatusScheduled:
		query = `UPDATE campaign_batches
		         SET status = $1, processed_customers = COALESCE($4, processed_customers), updated_at = now()
		         WHERE campaign_id = $2 AND batch_number = $3`
		args = append(args, update.ProcessedCustomers)
	default:
		return fmt.Errorf("unsupported batch status %q", update.Status)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.BatchNotFound(campaignID, batchNumber)
	}
	return nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, campaignID uuid.UUID, batchNumber int) (*models.Batch, error) {
	var b models.Batch
	err := r.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM campaign_batches WHERE campaign_id = $1 AND batch_number = $2
	`, campaignID, batchNumber).Scan(&b.CampaignID, &b.BatchNumber, &b.StartID, &b.EndID,
		&b.CustomerCount, &b.JobID, &b.JobName, &b.QueueName, &b.DelayMs, &b.MaxAttempts,
		&b.Status, &b.ProcessedCustomers, &b.Error, &b.EnqueuedAt, &b.CompletedAt, &b.FailedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.BatchNotFound(campaignID, batchNumber)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
