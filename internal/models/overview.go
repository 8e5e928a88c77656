package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignOverview is the per-(org, branch) aggregate of campaign counters,
// summed across all campaigns for the pair. Created lazily on first campaign
// creation and mutated only by atomic increments; many campaigns update the
// same row concurrently.
type CampaignOverview struct {
	OrgID     uuid.UUID        `json:"org_id"`
	BranchID  uuid.UUID        `json:"branch_id"`
	Campaigns int64            `json:"campaigns"`
	Counters  CampaignCounters `json:"counters"`
	UpdatedAt time.Time        `json:"updated_at"`
}
