package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/audience"
	"github.com/chatwave/backend/internal/dispatcher"
	"github.com/chatwave/backend/internal/events"
	"github.com/chatwave/backend/internal/models"
	"github.com/chatwave/backend/internal/planner"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeCampaignStore struct {
	campaign    *models.Campaign
	transitions []string
	claimDenied bool
	audienceSet int
}

func (f *fakeCampaignStore) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New()
	f.campaign = c
	return nil
}

func (f *fakeCampaignStore) GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != id {
		return nil, apperrors.CampaignNotFound(id)
	}
	copied := *f.campaign
	return &copied, nil
}

func (f *fakeCampaignStore) UpdateDefinition(ctx context.Context, c *models.Campaign) error {
	if f.campaign.Status != models.CampaignStatusDraft {
		return apperrors.ErrAlreadyScheduled
	}
	f.campaign = c
	return nil
}

func (f *fakeCampaignStore) SetAudience(ctx context.Context, id uuid.UUID, recipients int, delayMs int64) error {
	f.audienceSet = recipients
	return nil
}

func (f *fakeCampaignStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	if f.claimDenied {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if f.campaign.Status == s {
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	f.campaign.Status = to
	f.transitions = append(f.transitions, to)
	return true, nil
}

func (f *fakeCampaignStore) List(ctx context.Context, orgID, branchID uuid.UUID, filter repositories.CampaignFilter) ([]models.Campaign, error) {
	if f.campaign == nil {
		return nil, nil
	}
	return []models.Campaign{*f.campaign}, nil
}

func (f *fakeCampaignStore) Delete(ctx context.Context, orgID, branchID, id uuid.UUID) error {
	f.campaign = nil
	return nil
}

type fakeBatchStore struct {
	batches []models.Batch
	updates []repositories.BatchStatusUpdate
}

func (f *fakeBatchStore) GetByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Batch, error) {
	return f.batches, nil
}

func (f *fakeBatchStore) UpdateStatus(ctx context.Context, campaignID uuid.UUID, batchNumber int, update repositories.BatchStatusUpdate) error {
	f.updates = append(f.updates, update)
	for i := range f.batches {
		if f.batches[i].BatchNumber == batchNumber {
			f.batches[i].Status = update.Status
			return nil
		}
	}
	return apperrors.BatchNotFound(campaignID, batchNumber)
}

type fakeOverviewStore struct {
	recipients int
}

func (f *fakeOverviewStore) EnsureExists(ctx context.Context, orgID, branchID uuid.UUID) error {
	return nil
}

func (f *fakeOverviewStore) AddRecipients(ctx context.Context, orgID, branchID uuid.UUID, recipients int) error {
	f.recipients += recipients
	return nil
}

type fakeWalletStore struct{ balance int64 }

func (f *fakeWalletStore) Balance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return f.balance, nil
}

type fakeChannelStore struct{ rateClass string }

func (f *fakeChannelStore) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Channel, error) {
	return &models.Channel{ID: id, RateClass: f.rateClass}, nil
}

type fakeTimelineStore struct{ actions []string }

func (f *fakeTimelineStore) Record(ctx context.Context, entry models.TimelineEntry) error {
	f.actions = append(f.actions, entry.Action)
	return nil
}

type fakeResolver struct {
	count int
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, orgID, branchID uuid.UUID, category string, ref []uuid.UUID) (*audience.Resolution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &audience.Resolution{Count: f.count, Ref: ref}, nil
}

type fakeDispatcher struct {
	plans  [][]planner.PlannedBatch
	failed []dispatcher.BatchError
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, campaign *models.Campaign, plan []planner.PlannedBatch) (*dispatcher.Result, error) {
	f.plans = append(f.plans, plan)
	failed := make(map[int]bool, len(f.failed))
	for _, fe := range f.failed {
		failed[fe.BatchNumber] = true
	}
	res := &dispatcher.Result{Failed: f.failed}
	for _, p := range plan {
		if failed[p.BatchNumber] {
			continue
		}
		res.Submitted = append(res.Submitted, models.Batch{
			CampaignID:    campaign.ID,
			BatchNumber:   p.BatchNumber,
			StartID:       p.StartID,
			EndID:         p.EndID,
			CustomerCount: p.CustomerCount(),
			Status:        models.BatchStatusScheduled,
		})
	}
	return res, nil
}

type recordingPublisher struct{ types []string }

func (f *recordingPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	f.types = append(f.types, event.Type)
	return nil
}

type testHarness struct {
	svc       *CampaignService
	campaigns *fakeCampaignStore
	batches   *fakeBatchStore
	overviews *fakeOverviewStore
	wallet    *fakeWalletStore
	channels  *fakeChannelStore
	timeline  *fakeTimelineStore
	resolver  *fakeResolver
	disp      *fakeDispatcher
	events    *recordingPublisher
}

func newHarness() *testHarness {
	h := &testHarness{
		campaigns: &fakeCampaignStore{},
		batches:   &fakeBatchStore{},
		overviews: &fakeOverviewStore{},
		wallet:    &fakeWalletStore{balance: 1_000_000},
		channels:  &fakeChannelStore{rateClass: "TIER_250"},
		timeline:  &fakeTimelineStore{},
		resolver:  &fakeResolver{count: 120},
		disp:      &fakeDispatcher{},
		events:    &recordingPublisher{},
	}
	h.svc = &CampaignService{
		campaigns:  h.campaigns,
		batches:    h.batches,
		overviews:  h.overviews,
		wallets:    h.wallet,
		channels:   h.channels,
		timeline:   h.timeline,
		resolver:   h.resolver,
		dispatcher: h.disp,
		publisher:  h.events,
		log:        zap.NewNop(),
		now:        func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) },
	}
	return h
}

func validDefinition(scheduledAt time.Time) CampaignDefinition {
	return CampaignDefinition{
		Title:            "June promo",
		ChannelID:        uuid.New(),
		Template:         models.MessageContent{Kind: models.ContentKindText, Text: &models.TextContent{Body: "hi"}},
		AudienceCategory: models.AudienceCategoryList,
		AudienceRef:      []uuid.UUID{uuid.New()},
		ScheduledAt:      scheduledAt,
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()
	future := h.svc.now().Add(time.Hour)

	tests := []struct {
		name    string
		mutate  func(*CampaignDefinition)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(d *CampaignDefinition) {},
		},
		{
			name:    "bad category",
			mutate:  func(d *CampaignDefinition) { d.AudienceCategory = "everyone" },
			wantErr: apperrors.ErrInvalidAudienceCategory,
		},
		{
			name:    "past schedule",
			mutate:  func(d *CampaignDefinition) { d.ScheduledAt = h.svc.now().Add(-time.Hour) },
			wantErr: apperrors.ErrInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition(future)
			tt.mutate(&def)
			_, err := h.svc.Create(ctx, orgID, branchID, def)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateNegativeOffsetStillFuture(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Scheduled 30 min out in a zone 60 min behind UTC: the effective UTC
	// start is 90 min out, so the campaign is valid.
	def := validDefinition(h.svc.now().Add(30 * time.Minute))
	def.UTCOffsetMin = -60

	if _, err := h.svc.Create(ctx, uuid.New(), uuid.New(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublishHappyPath(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, err := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := h.svc.Publish(ctx, orgID, branchID, c.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Status != "scheduled" {
		t.Errorf("status = %q, want scheduled", result.Status)
	}
	if result.Recipients != 120 {
		t.Errorf("recipients = %d, want 120", result.Recipients)
	}
	// 120 recipients on a TIER_250 channel fit in one batch.
	if result.BatchCount != 1 {
		t.Errorf("batch count = %d, want 1", result.BatchCount)
	}
	if h.campaigns.campaign.Status != models.CampaignStatusActive {
		t.Errorf("campaign status = %q, want active", h.campaigns.campaign.Status)
	}
	if h.campaigns.audienceSet != 120 {
		t.Errorf("stored audience = %d, want 120", h.campaigns.audienceSet)
	}
	if h.overviews.recipients != 120 {
		t.Errorf("overview recipients = %d, want 120", h.overviews.recipients)
	}
	if len(h.disp.plans) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(h.disp.plans))
	}
}

func TestPublishPartialDispatch(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	// 500 recipients on TIER_250 plan into two batches; the second one
	// fails submission.
	h.resolver.count = 500
	h.disp.failed = []dispatcher.BatchError{{BatchNumber: 2, Err: errors.New("enqueue timeout")}}

	c, err := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := h.svc.Publish(ctx, orgID, branchID, c.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.BatchCount != 2 {
		t.Errorf("batch count = %d, want 2", result.BatchCount)
	}
	if len(result.FailedBatches) != 1 || result.FailedBatches[0] != 2 {
		t.Errorf("failed batches = %v, want [2]", result.FailedBatches)
	}
}

func TestPublishLosesClaimRace(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, err := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.campaigns.claimDenied = true
	_, err = h.svc.Publish(ctx, orgID, branchID, c.ID)
	if !errors.Is(err, apperrors.ErrAlreadyScheduled) {
		t.Fatalf("got %v, want ErrAlreadyScheduled", err)
	}
	if len(h.disp.plans) != 0 {
		t.Errorf("dispatcher was called by losing publisher")
	}
}

func TestPublishNonDraft(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	h.campaigns.campaign.Status = models.CampaignStatusActive

	_, err := h.svc.Publish(ctx, orgID, branchID, c.ID)
	if !errors.Is(err, apperrors.ErrAlreadyScheduled) {
		t.Fatalf("got %v, want ErrAlreadyScheduled", err)
	}
}

func TestPublishInsufficientBalance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	h.wallet.balance = 50

	_, err := h.svc.Publish(ctx, orgID, branchID, c.ID)
	if !errors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if h.campaigns.campaign.Status != models.CampaignStatusDraft {
		t.Errorf("campaign left in %q after rejected publish", h.campaigns.campaign.Status)
	}
}

func TestPublishEmptyAudience(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	h.resolver.err = apperrors.ErrEmptyAudience

	_, err := h.svc.Publish(ctx, orgID, branchID, c.ID)
	if !errors.Is(err, apperrors.ErrEmptyAudience) {
		t.Fatalf("got %v, want ErrEmptyAudience", err)
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if _, err := h.svc.Publish(ctx, orgID, branchID, c.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := h.svc.PauseResume(ctx, orgID, branchID, c.ID, ActionPause)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got.Status != models.CampaignStatusPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}

	// Pausing a paused campaign is rejected.
	if _, err := h.svc.PauseResume(ctx, orgID, branchID, c.ID, ActionPause); err == nil {
		t.Error("second pause succeeded, want error")
	}

	got, err = h.svc.PauseResume(ctx, orgID, branchID, c.ID, ActionResume)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != models.CampaignStatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestUpdateBatchStatusReconciles(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if _, err := h.svc.Publish(ctx, orgID, branchID, c.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	h.batches.batches = []models.Batch{
		{CampaignID: c.ID, BatchNumber: 1, Status: models.BatchStatusCompleted},
		{CampaignID: c.ID, BatchNumber: 2, Status: models.BatchStatusInProgress},
	}

	// Final batch completes: campaign flips to completed.
	got, err := h.svc.UpdateBatchStatus(ctx, orgID, branchID, c.ID, 2,
		repositories.BatchStatusUpdate{Status: models.BatchStatusCompleted})
	if err != nil {
		t.Fatalf("update batch: %v", err)
	}
	if got.Status != models.CampaignStatusCompleted {
		t.Errorf("campaign status = %q, want completed", got.Status)
	}

	// A replayed report after the terminal transition changes nothing.
	got, err = h.svc.UpdateBatchStatus(ctx, orgID, branchID, c.ID, 2,
		repositories.BatchStatusUpdate{Status: models.BatchStatusCompleted})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.Status != models.CampaignStatusCompleted {
		t.Errorf("campaign status after replay = %q, want completed", got.Status)
	}
}

func TestUpdateBatchStatusFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	orgID, branchID := uuid.New(), uuid.New()

	c, _ := h.svc.Create(ctx, orgID, branchID, validDefinition(h.svc.now().Add(time.Hour)))
	if _, err := h.svc.Publish(ctx, orgID, branchID, c.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	h.batches.batches = []models.Batch{
		{CampaignID: c.ID, BatchNumber: 1, Status: models.BatchStatusCompleted},
		{CampaignID: c.ID, BatchNumber: 2, Status: models.BatchStatusInProgress},
	}

	errMsg := "provider rejected template"
	got, err := h.svc.UpdateBatchStatus(ctx, orgID, branchID, c.ID, 2,
		repositories.BatchStatusUpdate{Status: models.BatchStatusFailed, Error: &errMsg})
	if err != nil {
		t.Fatalf("update batch: %v", err)
	}
	if got.Status != models.CampaignStatusFailed {
		t.Errorf("campaign status = %q, want failed", got.Status)
	}
}
