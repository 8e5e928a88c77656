package events

import "context"

// Event types
const (
	EventCampaignStatusChanged = "campaign_status_changed"
	EventBatchStatusChanged    = "batch_status_changed"
	EventStatsUpdated          = "stats_updated"
)

// StreamCampaign is the pubsub stream campaign lifecycle and stats events
// are published on.
const StreamCampaign = "events:campaign"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
