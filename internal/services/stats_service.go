package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwave/backend/internal/events"
	"github.com/chatwave/backend/internal/models"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type messageStore interface {
	CampaignForProviderMessage(ctx context.Context, providerMessageID string) (*uuid.UUID, error)
	UpdateStatus(ctx context.Context, providerMessageID, status string) error
}

type counterStore interface {
	ApplyDeliveryIncrement(ctx context.Context, campaignID uuid.UUID, status string) (*models.CampaignCounters, error)
}

// StatsService folds provider delivery receipts into campaign and overview
// counters. Providers redeliver receipts, so every event passes a dedup gate
// before it can mutate anything.
type StatsService struct {
	messages    messageStore
	counters    counterStore
	redis       *redis.Client
	publisher   events.Publisher
	log         *zap.Logger
	dedupWindow time.Duration
}

func NewStatsService(
	messages *repositories.MessageRepo,
	counters *repositories.CampaignRepo,
	redisClient *redis.Client,
	publisher events.Publisher,
	log *zap.Logger,
	dedupWindow time.Duration,
) *StatsService {
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	return &StatsService{
		messages:    messages,
		counters:    counters,
		redis:       redisClient,
		publisher:   publisher,
		log:         log,
		dedupWindow: dedupWindow,
	}
}

// DeliveryEvent is one provider status receipt.
type DeliveryEvent struct {
	ProviderMessageID string    `json:"message_id"`
	Status            string    `json:"status"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// DeliveryResult reports what the event did. Applied is false for
// duplicates and for messages that do not belong to any campaign.
type DeliveryResult struct {
	Applied    bool
	Duplicate  bool
	CampaignID *uuid.UUID
	Counters   *models.CampaignCounters
}

func dedupKey(providerMessageID, status string) string {
	return fmt.Sprintf("stats:dedup:%s:%s", providerMessageID, status)
}

// ApplyDeliveryEvent processes one receipt. The (message, status) pair is
// counted at most once inside the dedup window, so provider redeliveries
// cannot inflate counters. A failed event releases its dedup claim so the
// provider's retry is not swallowed as a duplicate.
func (s *StatsService) ApplyDeliveryEvent(ctx context.Context, ev DeliveryEvent) (result *DeliveryResult, err error) {
	if !models.IsValidDeliveryStatus(ev.Status) {
		return nil, fmt.Errorf("unknown delivery status %q", ev.Status)
	}

	key := dedupKey(ev.ProviderMessageID, ev.Status)
	first, err := s.redis.SetNX(ctx, key, 1, s.dedupWindow).Result()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if delErr := s.redis.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			s.log.Warn("dedup key release failed",
				zap.String("message_id", ev.ProviderMessageID), zap.Error(delErr))
		}
	}()
	if !first {
		s.log.Debug("duplicate delivery event dropped",
			zap.String("message_id", ev.ProviderMessageID),
			zap.String("status", ev.Status),
		)
		return &DeliveryResult{Duplicate: true}, nil
	}

	campaignID, err := s.messages.CampaignForProviderMessage(ctx, ev.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	if campaignID == nil {
		// Receipt for a message outside any campaign. Acknowledge and
		// move on; the provider keeps retrying otherwise.
		return &DeliveryResult{}, nil
	}

	if err := s.messages.UpdateStatus(ctx, ev.ProviderMessageID, ev.Status); err != nil {
		s.log.Warn("message status update failed",
			zap.String("message_id", ev.ProviderMessageID), zap.Error(err))
	}

	counters, err := s.counters.ApplyDeliveryIncrement(ctx, *campaignID, ev.Status)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, events.StreamCampaign, events.Event{
		Type: events.EventStatsUpdated,
		Payload: map[string]any{
			"campaign_id": campaignID.String(),
			"status":      ev.Status,
		},
	}); err != nil {
		s.log.Warn("stats event publish failed", zap.Error(err))
	}

	return &DeliveryResult{Applied: true, CampaignID: campaignID, Counters: counters}, nil
}
