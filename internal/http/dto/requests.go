package dto

import (
	"time"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
)

type AuthAPIKeyRequest struct {
	APIKey   string    `json:"api_key"`
	OrgID    uuid.UUID `json:"org_id"`
	BranchID uuid.UUID `json:"branch_id"`
}

type CreateCampaignRequest struct {
	Title            string                `json:"title"`
	ChannelID        uuid.UUID             `json:"channel_id"`
	Template         models.MessageContent `json:"template"`
	AudienceCategory string                `json:"audience_category"` // manual / list / segment
	AudienceRef      []uuid.UUID           `json:"audience_ref"`
	ScheduledAt      time.Time             `json:"scheduled_at"`
	EndsAt           *time.Time            `json:"ends_at,omitempty"`
	UTCOffsetMin     int                   `json:"utc_offset_min"`
	RetryEnabled     bool                  `json:"retry_enabled"`
}

type UpdateBatchStatusRequest struct {
	Status             string  `json:"status"` // in_progress / completed / failed
	ProcessedCustomers *int    `json:"processed_customers,omitempty"`
	Error              *string `json:"error,omitempty"`
}

// DeliveryStatusWebhook is the provider callback body for one receipt.
type DeliveryStatusWebhook struct {
	MessageID  string    `json:"message_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}
