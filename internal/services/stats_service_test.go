package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessageStore struct {
	campaignByMsg map[string]uuid.UUID
	statusUpdates []string
}

func (f *fakeMessageStore) CampaignForProviderMessage(ctx context.Context, providerMessageID string) (*uuid.UUID, error) {
	id, ok := f.campaignByMsg[providerMessageID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (f *fakeMessageStore) UpdateStatus(ctx context.Context, providerMessageID, status string) error {
	f.statusUpdates = append(f.statusUpdates, providerMessageID+":"+status)
	return nil
}

type fakeCounterStore struct {
	increments map[string]int
	failures   int // number of calls to fail before succeeding
}

func (f *fakeCounterStore) ApplyDeliveryIncrement(ctx context.Context, campaignID uuid.UUID, status string) (*models.CampaignCounters, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("deadlock detected")
	}
	if f.increments == nil {
		f.increments = make(map[string]int)
	}
	f.increments[status]++
	return &models.CampaignCounters{Delivered: int64(f.increments[models.DeliveryStatusDelivered])}, nil
}

func newStatsHarness(t *testing.T) (*StatsService, *fakeMessageStore, *fakeCounterStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	messages := &fakeMessageStore{campaignByMsg: make(map[string]uuid.UUID)}
	counters := &fakeCounterStore{}
	svc := &StatsService{
		messages:    messages,
		counters:    counters,
		redis:       client,
		publisher:   &recordingPublisher{},
		log:         zap.NewNop(),
		dedupWindow: time.Hour,
	}
	return svc, messages, counters
}

func TestApplyDeliveryEvent(t *testing.T) {
	svc, messages, counters := newStatsHarness(t)
	ctx := context.Background()

	campaignID := uuid.New()
	messages.campaignByMsg["wamid.1"] = campaignID

	result, err := svc.ApplyDeliveryEvent(ctx, DeliveryEvent{
		ProviderMessageID: "wamid.1",
		Status:            models.DeliveryStatusDelivered,
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, campaignID, *result.CampaignID)
	require.Equal(t, 1, counters.increments[models.DeliveryStatusDelivered])
	require.Equal(t, []string{"wamid.1:delivered"}, messages.statusUpdates)
}

func TestApplyDeliveryEventDuplicate(t *testing.T) {
	svc, messages, counters := newStatsHarness(t)
	ctx := context.Background()

	messages.campaignByMsg["wamid.1"] = uuid.New()
	ev := DeliveryEvent{ProviderMessageID: "wamid.1", Status: models.DeliveryStatusDelivered}

	first, err := svc.ApplyDeliveryEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := svc.ApplyDeliveryEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.False(t, second.Applied)
	require.Equal(t, 1, counters.increments[models.DeliveryStatusDelivered])
}

func TestApplyDeliveryEventRetryAfterFailure(t *testing.T) {
	svc, messages, counters := newStatsHarness(t)
	ctx := context.Background()

	messages.campaignByMsg["wamid.1"] = uuid.New()
	counters.failures = 1
	ev := DeliveryEvent{ProviderMessageID: "wamid.1", Status: models.DeliveryStatusDelivered}

	// A failed apply must release its dedup claim so the provider's
	// redelivery is counted, not dropped as a duplicate.
	_, err := svc.ApplyDeliveryEvent(ctx, ev)
	require.Error(t, err)

	retried, err := svc.ApplyDeliveryEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, retried.Applied)
	require.False(t, retried.Duplicate)
	require.Equal(t, 1, counters.increments[models.DeliveryStatusDelivered])
}

func TestApplyDeliveryEventDistinctStatuses(t *testing.T) {
	svc, messages, counters := newStatsHarness(t)
	ctx := context.Background()

	messages.campaignByMsg["wamid.1"] = uuid.New()

	// delivered then read for the same message are two distinct events.
	for _, status := range []string{models.DeliveryStatusDelivered, models.DeliveryStatusRead} {
		result, err := svc.ApplyDeliveryEvent(ctx, DeliveryEvent{
			ProviderMessageID: "wamid.1",
			Status:            status,
		})
		require.NoError(t, err)
		require.True(t, result.Applied)
	}
	require.Equal(t, 1, counters.increments[models.DeliveryStatusDelivered])
	require.Equal(t, 1, counters.increments[models.DeliveryStatusRead])
}

func TestApplyDeliveryEventUnknownMessage(t *testing.T) {
	svc, messages, counters := newStatsHarness(t)
	ctx := context.Background()

	result, err := svc.ApplyDeliveryEvent(ctx, DeliveryEvent{
		ProviderMessageID: "wamid.unrelated",
		Status:            models.DeliveryStatusDelivered,
	})
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Nil(t, result.CampaignID)
	require.Empty(t, counters.increments)
	require.Empty(t, messages.statusUpdates)
}

func TestApplyDeliveryEventBadStatus(t *testing.T) {
	svc, _, _ := newStatsHarness(t)

	_, err := svc.ApplyDeliveryEvent(context.Background(), DeliveryEvent{
		ProviderMessageID: "wamid.1",
		Status:            "teleported",
	})
	require.Error(t, err)
}
