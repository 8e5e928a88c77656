package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a WhatsApp sending identity (phone number) registered for an
// org. RateClass is the provider-assigned messaging-limit tier that drives
// batch sizing.
type Channel struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	PhoneNumber string    `json:"phone_number"`
	DisplayName string    `json:"display_name"`
	RateClass   string    `json:"rate_class"`
	Status      string    `json:"status"` // connected / disconnected
	CreatedAt   time.Time `json:"created_at"`
}

// TimelineEntry is an append-only audit record for a campaign. Writes are
// best-effort: failures are logged, never propagated.
type TimelineEntry struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"org_id"`
	ActorType  string     `json:"actor_type"` // user / worker / system
	Action     string     `json:"action"`
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
