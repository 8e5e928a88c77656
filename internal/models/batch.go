package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch statuses. submission_failed means the enqueue itself failed; failed
// means the batch ran and failed.
const (
	BatchStatusScheduled        = "scheduled"
	BatchStatusInProgress       = "in_progress"
	BatchStatusCompleted        = "completed"
	BatchStatusFailed           = "failed"
	BatchStatusSubmissionFailed = "submission_failed"
)

// Batch is one rate-limited slice of a campaign's audience, addressed by the
// stable (campaign_id, batch_number) key. [StartID, EndID) is the half-open
// offset window into the resolved audience.
type Batch struct {
	CampaignID         uuid.UUID  `json:"campaign_id"`
	BatchNumber        int        `json:"batch_number"` // 1-based, contiguous
	StartID            int        `json:"start_id"`
	EndID              int        `json:"end_id"`
	CustomerCount      int        `json:"customer_count"`
	JobID              string     `json:"job_id,omitempty"`
	JobName            string     `json:"job_name,omitempty"`
	QueueName          string     `json:"queue_name,omitempty"`
	DelayMs            int64      `json:"delay_ms"`
	MaxAttempts        int        `json:"max_attempts"`
	Status             string     `json:"status"`
	ProcessedCustomers int        `json:"processed_customers"`
	Error              *string    `json:"error,omitempty"`
	EnqueuedAt         *time.Time `json:"enqueued_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ReconcileFromBatches derives the campaign status from its batch statuses.
// Returns "" when the status should be left unchanged. The rule is idempotent:
// calling it again with the same batches yields the same answer.
//
// Batches that are merely scheduled do not count as in_progress, so a failure
// can finalize a campaign while future-day batches have not run yet. That
// matches the documented rollup semantics: a failure anywhere halts the
// campaign unless some batch is currently mid-execution.
func ReconcileFromBatches(batches []Batch) string {
	if len(batches) == 0 {
		return ""
	}
	completed, failed, inProgress := 0, 0, 0
	for _, b := range batches {
		switch b.Status {
		case BatchStatusCompleted:
			completed++
		case BatchStatusFailed, BatchStatusSubmissionFailed:
			failed++
		case BatchStatusInProgress:
			inProgress++
		}
	}
	if completed == len(batches) {
		return CampaignStatusCompleted
	}
	if failed > 0 && inProgress == 0 {
		return CampaignStatusFailed
	}
	return ""
}
