// Package dispatcher turns a batch plan into submitted queue jobs and
// persisted batch records.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/models"
	"github.com/chatwave/backend/internal/planner"
	"github.com/chatwave/backend/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchJobPayload is what the worker receives for one batch.
type BatchJobPayload struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	BatchNumber int       `json:"batch_number"`
	StartID     int       `json:"start_id"`
	EndID       int       `json:"end_id"`
}

// BatchStore persists batch records as they are submitted.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
}

// Config is the retry policy applied to every batch job.
type Config struct {
	QueueName      string
	MaxAttempts    int
	Backoff        time.Duration
	Strategy       string
	EnqueueTimeout time.Duration
}

// BatchError records one batch whose submission failed.
type BatchError struct {
	BatchNumber int   `json:"batch_number"`
	Err         error `json:"-"`
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.BatchNumber, e.Err)
}

// Result reports a dispatch. A partial dispatch (some batches submitted,
// some not) is represented explicitly: failed batches are persisted with
// status submission_failed and listed here for the caller to act on.
type Result struct {
	Submitted []models.Batch
	Failed    []BatchError
}

func (r *Result) AllSubmitted() bool {
	return len(r.Failed) == 0
}

type Dispatcher struct {
	queue   queue.Enqueuer
	batches BatchStore
	cfg     Config
	log     *zap.Logger
}

func New(q queue.Enqueuer, batches BatchStore, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{queue: q, batches: batches, cfg: cfg, log: log}
}

// JobName is deterministic from campaign id and batch number so duplicate
// submissions are detectable downstream.
func JobName(campaignID uuid.UUID, batchNumber int) string {
	return fmt.Sprintf("broadcast:%s:batch:%d", campaignID, batchNumber)
}

// Dispatch submits every planned batch to the work queue with its computed
// delay and records the resulting job handle. A failed submission never
// drops the batch silently: the batch row is written with status
// submission_failed and the failure is part of the result.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *models.Campaign, plan []planner.PlannedBatch) (*Result, error) {
	opts := queue.Options{
		MaxAttempts: d.cfg.MaxAttempts,
		Backoff:     d.cfg.Backoff,
		Strategy:    d.cfg.Strategy,
	}
	if !campaign.RetryEnabled {
		opts.MaxAttempts = 1
	}

	result := &Result{}
	for _, planned := range plan {
		batch := models.Batch{
			CampaignID:    campaign.ID,
			BatchNumber:   planned.BatchNumber,
			StartID:       planned.StartID,
			EndID:         planned.EndID,
			CustomerCount: planned.CustomerCount(),
			DelayMs:       planned.DelayMs,
			MaxAttempts:   opts.MaxAttempts,
			JobName:       JobName(campaign.ID, planned.BatchNumber),
		}

		handle, err := d.enqueue(ctx, batch.JobName, BatchJobPayload{
			CampaignID:  campaign.ID,
			BatchNumber: planned.BatchNumber,
			StartID:     planned.StartID,
			EndID:       planned.EndID,
		}, opts, planned.DelayMs)

		if err != nil {
			errStr := err.Error()
			batch.Status = models.BatchStatusSubmissionFailed
			batch.Error = &errStr
			result.Failed = append(result.Failed, BatchError{BatchNumber: planned.BatchNumber, Err: err})
			d.log.Error("batch submission failed",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int("batch_number", planned.BatchNumber),
				zap.Error(err),
			)
		} else {
			batch.Status = models.BatchStatusScheduled
			batch.JobID = handle.ID
			batch.QueueName = handle.Queue
			enqueuedAt := handle.EnqueuedAt
			batch.EnqueuedAt = &enqueuedAt
		}

		if err := d.batches.CreateBatch(ctx, &batch); err != nil {
			return nil, fmt.Errorf("persist batch %d: %w", planned.BatchNumber, err)
		}
		if batch.Status == models.BatchStatusScheduled {
			result.Submitted = append(result.Submitted, batch)
		}
	}

	d.log.Info("dispatch finished",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("submitted", len(result.Submitted)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, name string, payload BatchJobPayload, opts queue.Options, delayMs int64) (*queue.JobHandle, error) {
	opts.Delay = time.Duration(delayMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()

	handle, err := d.queue.Enqueue(ctx, name, payload, opts)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			return nil, err
		}
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrUpstreamUnavailable)
	}
	return handle, nil
}
