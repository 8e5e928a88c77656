package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message content kinds. MessageContent is a tagged union over these; payload
// builders must match all of them exhaustively.
const (
	ContentKindText        = "text"
	ContentKindMedia       = "media"
	ContentKindInteractive = "interactive"
	ContentKindLocation    = "location"
	ContentKindTemplate    = "template"
)

// MessageStatusEnqueued is the initial outbound message status, before any
// provider receipt arrives.
const MessageStatusEnqueued = "enqueued"

// Delivery event statuses reported by the provider.
const (
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusRead      = "read"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusReplied   = "replied"
	DeliveryStatusClicked   = "clicked"
)

func IsValidDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusRead,
		DeliveryStatusFailed, DeliveryStatusReplied, DeliveryStatusClicked:
		return true
	}
	return false
}

// MessageContent is the campaign template in tagged-union form. Exactly one
// of the kind-specific fields is set, selected by Kind.
type MessageContent struct {
	Kind        string              `json:"kind"`
	Text        *TextContent        `json:"text,omitempty"`
	Media       *MediaContent       `json:"media,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Template    *TemplateContent    `json:"template,omitempty"`
}

type TextContent struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type MediaContent struct {
	MediaType string `json:"media_type"` // image / video / document / audio
	Link      string `json:"link"`
	Caption   string `json:"caption,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

type InteractiveContent struct {
	Body    string              `json:"body"`
	Footer  string              `json:"footer,omitempty"`
	Buttons []InteractiveButton `json:"buttons"`
}

type InteractiveButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type TemplateContent struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	BodyParams []string `json:"body_params,omitempty"`
	HeaderLink string   `json:"header_link,omitempty"`
}

// Validate checks that the field matching Kind is populated.
func (m *MessageContent) Validate() error {
	switch m.Kind {
	case ContentKindText:
		if m.Text == nil || m.Text.Body == "" {
			return fmt.Errorf("text content requires a body")
		}
	case ContentKindMedia:
		if m.Media == nil || m.Media.Link == "" {
			return fmt.Errorf("media content requires a link")
		}
	case ContentKindInteractive:
		if m.Interactive == nil || len(m.Interactive.Buttons) == 0 {
			return fmt.Errorf("interactive content requires at least one button")
		}
	case ContentKindLocation:
		if m.Location == nil {
			return fmt.Errorf("location content requires coordinates")
		}
	case ContentKindTemplate:
		if m.Template == nil || m.Template.Name == "" {
			return fmt.Errorf("template content requires a template name")
		}
	default:
		return fmt.Errorf("unknown content kind %q", m.Kind)
	}
	return nil
}

func (m MessageContent) MarshalDB() ([]byte, error) {
	return json.Marshal(m)
}

// OutboundMessage is one message of a broadcast batch. ProviderMessageID is
// the association key for incoming delivery-status webhooks.
type OutboundMessage struct {
	ID                uuid.UUID `json:"id"`
	CampaignID        uuid.UUID `json:"campaign_id"`
	BatchNumber       int       `json:"batch_number"`
	CustomerID        uuid.UUID `json:"customer_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
