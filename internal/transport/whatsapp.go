package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WhatsAppClient talks to the WhatsApp Cloud API. A per-client rate limiter
// paces outbound sends so one channel cannot exceed its provider quota.
type WhatsAppClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         *zap.Logger
}

func NewWhatsAppClient(baseURL, accessToken string, sendsPerSecond float64, log *zap.Logger) *WhatsAppClient {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 20
	}
	return &WhatsAppClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		log:     log,
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers one message through a channel and returns the provider
// message id used to associate delivery receipts later.
func (c *WhatsAppClient) Send(ctx context.Context, channelPhoneID, toPhone string, content models.MessageContent) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := buildPayload(toPhone, content)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, channelPhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp api unavailable: %w", apperrors.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		c.log.Warn("whatsapp api server error", zap.Int("status", resp.StatusCode), zap.ByteString("body", b))
		return "", fmt.Errorf("whatsapp api returned %d: %w", resp.StatusCode, apperrors.ErrUpstreamUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("whatsapp api rejected message (code %d): %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return "", fmt.Errorf("whatsapp api returned %d", resp.StatusCode)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Messages) == 0 {
		return "", fmt.Errorf("whatsapp api returned no message id")
	}
	return result.Messages[0].ID, nil
}

// buildPayload maps the tagged content union onto the Cloud API message
// object. Every content kind must be handled here.
func buildPayload(toPhone string, content models.MessageContent) (map[string]any, error) {
	msg := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                toPhone,
	}

	switch content.Kind {
	case models.ContentKindText:
		msg["type"] = "text"
		msg["text"] = map[string]any{
			"body":        content.Text.Body,
			"preview_url": content.Text.PreviewURL,
		}
	case models.ContentKindMedia:
		media := map[string]any{"link": content.Media.Link}
		if content.Media.Caption != "" {
			media["caption"] = content.Media.Caption
		}
		if content.Media.Filename != "" {
			media["filename"] = content.Media.Filename
		}
		msg["type"] = content.Media.MediaType
		msg[content.Media.MediaType] = media
	case models.ContentKindInteractive:
		buttons := make([]map[string]any, 0, len(content.Interactive.Buttons))
		for _, b := range content.Interactive.Buttons {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]string{"id": b.ID, "title": b.Title},
			})
		}
		interactive := map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": content.Interactive.Body},
			"action": map[string]any{"buttons": buttons},
		}
		if content.Interactive.Footer != "" {
			interactive["footer"] = map[string]string{"text": content.Interactive.Footer}
		}
		msg["type"] = "interactive"
		msg["interactive"] = interactive
	case models.ContentKindLocation:
		msg["type"] = "location"
		msg["location"] = map[string]any{
			"latitude":  content.Location.Latitude,
			"longitude": content.Location.Longitude,
			"name":      content.Location.Name,
			"address":   content.Location.Address,
		}
	case models.ContentKindTemplate:
		components := []map[string]any{}
		if len(content.Template.BodyParams) > 0 {
			params := make([]map[string]string, 0, len(content.Template.BodyParams))
			for _, p := range content.Template.BodyParams {
				params = append(params, map[string]string{"type": "text", "text": p})
			}
			components = append(components, map[string]any{"type": "body", "parameters": params})
		}
		if content.Template.HeaderLink != "" {
			components = append(components, map[string]any{
				"type": "header",
				"parameters": []map[string]any{{
					"type":  "image",
					"image": map[string]string{"link": content.Template.HeaderLink},
				}},
			})
		}
		msg["type"] = "template"
		msg["template"] = map[string]any{
			"name":       content.Template.Name,
			"language":   map[string]string{"code": content.Template.Language},
			"components": components,
		}
	default:
		return nil, fmt.Errorf("unknown content kind %q", content.Kind)
	}
	return msg, nil
}
