package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
	CampaignStatusFailed    = "failed"
)

// Audience categories
const (
	AudienceCategoryList    = "list"
	AudienceCategorySegment = "segment"
	AudienceCategoryManual  = "manual"
)

// Valid state transitions: from -> []to. Terminal statuses have no exits;
// active<->paused is the only non-terminal cycle.
var ValidCampaignTransitions = map[string][]string{
	CampaignStatusDraft:     {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusActive, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled},
	CampaignStatusCompleted: {},
	CampaignStatusCancelled: {},
	CampaignStatusFailed:    {},
}

func IsValidCampaignTransition(from, to string) bool {
	allowed, ok := ValidCampaignTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalCampaignStatus(status string) bool {
	switch status {
	case CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusFailed:
		return true
	}
	return false
}

func IsValidAudienceCategory(category string) bool {
	switch category {
	case AudienceCategoryList, AudienceCategorySegment, AudienceCategoryManual:
		return true
	}
	return false
}

// CampaignCounters is the per-status delivery tally. The same shape is summed
// per (org, branch) in CampaignOverview.
type CampaignCounters struct {
	Recipients int64 `json:"recipients"`
	Enqueued   int64 `json:"enqueued"`
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Read       int64 `json:"read"`
	Failed     int64 `json:"failed"`
	Clicked    int64 `json:"clicked"`
	Replied    int64 `json:"replied"`
}

type Campaign struct {
	ID               uuid.UUID        `json:"id"`
	OrgID            uuid.UUID        `json:"org_id"`
	BranchID         uuid.UUID        `json:"branch_id"`
	Title            string           `json:"title"`
	ChannelID        uuid.UUID        `json:"channel_id"`
	Template         MessageContent   `json:"template"`
	AudienceCategory string           `json:"audience_category"` // list / segment / manual
	AudienceRef      []uuid.UUID      `json:"audience_ref"`
	ScheduledAt      time.Time        `json:"scheduled_at"`
	EndsAt           *time.Time       `json:"ends_at,omitempty"`
	UTCOffsetMin     int              `json:"utc_offset_min"`
	DelayMs          int64            `json:"delay_ms"`
	RetryEnabled     bool             `json:"retry_enabled"`
	Status           string           `json:"status"`
	Counters         CampaignCounters `json:"counters"`
	Batches          []Batch          `json:"batches,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StartDelay returns the time remaining until the campaign's declared local
// start, converted to UTC via the client-declared offset. Negative means the
// start is already in the past.
func (c *Campaign) StartDelay(now time.Time) time.Duration {
	startUTC := c.ScheduledAt.Add(-time.Duration(c.UTCOffsetMin) * time.Minute)
	return startUTC.Sub(now)
}
