// Package planner computes the batch schedule for a broadcast: how the
// resolved audience splits into rate-capped slices and when each slice runs.
// Pure; no queue or database involved.
package planner

import (
	"fmt"

	"github.com/chatwave/backend/internal/apperrors"
)

// DayMs is the stagger between consecutive batches.
const DayMs int64 = 86_400_000

// PlannedBatch is one slice of the audience. [StartID, EndID) is a half-open
// offset window; DelayMs is relative to "now" at planning time.
type PlannedBatch struct {
	BatchNumber int // 1-based
	StartID     int
	EndID       int
	DelayMs     int64
}

func (b PlannedBatch) CustomerCount() int {
	return b.EndID - b.StartID
}

// Plan splits totalCount recipients into ceil(totalCount/perBatchCap)
// contiguous batches. Batch i (0-based) is delayed baseDelayMs + i whole
// days: the stagger is additive from batch 0, not cumulative per batch.
func Plan(totalCount, perBatchCap int, baseDelayMs int64) ([]PlannedBatch, error) {
	if baseDelayMs < 0 {
		return nil, apperrors.ErrInvalidSchedule
	}
	if perBatchCap <= 0 {
		return nil, fmt.Errorf("batch cap %d: %w", perBatchCap, apperrors.ErrUnknownRateTier)
	}
	if totalCount <= 0 {
		return nil, apperrors.ErrEmptyAudience
	}

	numberOfBatches := (totalCount + perBatchCap - 1) / perBatchCap
	batches := make([]PlannedBatch, 0, numberOfBatches)
	for i := 0; i < numberOfBatches; i++ {
		endID := (i + 1) * perBatchCap
		if endID > totalCount {
			endID = totalCount
		}
		batches = append(batches, PlannedBatch{
			BatchNumber: i + 1,
			StartID:     i * perBatchCap,
			EndID:       endID,
			DelayMs:     baseDelayMs + int64(i)*DayMs,
		})
	}
	return batches, nil
}
