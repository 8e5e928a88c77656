package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/audience"
	"github.com/chatwave/backend/internal/dispatcher"
	"github.com/chatwave/backend/internal/events"
	"github.com/chatwave/backend/internal/models"
	"github.com/chatwave/backend/internal/planner"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/tier"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store contracts the campaign service depends on, satisfied by the
// repositories package and narrow enough to fake in tests.

type campaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Campaign, error)
	UpdateDefinition(ctx context.Context, c *models.Campaign) error
	SetAudience(ctx context.Context, id uuid.UUID, recipients int, delayMs int64) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	List(ctx context.Context, orgID, branchID uuid.UUID, f repositories.CampaignFilter) ([]models.Campaign, error)
	Delete(ctx context.Context, orgID, branchID, id uuid.UUID) error
}

type batchStore interface {
	GetByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Batch, error)
	UpdateStatus(ctx context.Context, campaignID uuid.UUID, batchNumber int, update repositories.BatchStatusUpdate) error
}

type overviewStore interface {
	EnsureExists(ctx context.Context, orgID, branchID uuid.UUID) error
	AddRecipients(ctx context.Context, orgID, branchID uuid.UUID, recipients int) error
}

type walletStore interface {
	Balance(ctx context.Context, orgID uuid.UUID) (int64, error)
}

type channelStore interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Channel, error)
}

type timelineStore interface {
	Record(ctx context.Context, entry models.TimelineEntry) error
}

type audienceResolver interface {
	Resolve(ctx context.Context, orgID, branchID uuid.UUID, category string, ref []uuid.UUID) (*audience.Resolution, error)
}

type batchDispatcher interface {
	Dispatch(ctx context.Context, campaign *models.Campaign, plan []planner.PlannedBatch) (*dispatcher.Result, error)
}

type CampaignService struct {
	campaigns  campaignStore
	batches    batchStore
	overviews  overviewStore
	wallets    walletStore
	channels   channelStore
	timeline   timelineStore
	resolver   audienceResolver
	dispatcher batchDispatcher
	publisher  events.Publisher
	log        *zap.Logger
	now        func() time.Time
}

func NewCampaignService(
	campaigns *repositories.CampaignRepo,
	batches *repositories.BatchRepo,
	overviews *repositories.OverviewRepo,
	wallets *repositories.WalletRepo,
	channels *repositories.ChannelRepo,
	timeline *repositories.TimelineRepo,
	resolver *audience.Resolver,
	d *dispatcher.Dispatcher,
	publisher events.Publisher,
	log *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaigns:  campaigns,
		batches:    batches,
		overviews:  overviews,
		wallets:    wallets,
		channels:   channels,
		timeline:   timeline,
		resolver:   resolver,
		dispatcher: d,
		publisher:  publisher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CampaignDefinition is the caller-supplied campaign shape for create and
// draft update.
type CampaignDefinition struct {
	Title            string
	ChannelID        uuid.UUID
	Template         models.MessageContent
	AudienceCategory string
	AudienceRef      []uuid.UUID
	ScheduledAt      time.Time
	EndsAt           *time.Time
	UTCOffsetMin     int
	RetryEnabled     bool
}

func (s *CampaignService) validateDefinition(def *CampaignDefinition, now time.Time) (int64, error) {
	if def.Title == "" {
		return 0, fmt.Errorf("title is required")
	}
	if !models.IsValidAudienceCategory(def.AudienceCategory) {
		return 0, fmt.Errorf("category %q: %w", def.AudienceCategory, apperrors.ErrInvalidAudienceCategory)
	}
	if err := def.Template.Validate(); err != nil {
		return 0, err
	}

	probe := models.Campaign{ScheduledAt: def.ScheduledAt, UTCOffsetMin: def.UTCOffsetMin}
	delay := probe.StartDelay(now)
	if delay < 0 {
		return 0, apperrors.ErrInvalidSchedule
	}
	return delay.Milliseconds(), nil
}

// Create stores a new draft. The start delay is validated here and again at
// publish, since time elapses between the two.
func (s *CampaignService) Create(ctx context.Context, orgID, branchID uuid.UUID, def CampaignDefinition) (*models.Campaign, error) {
	delayMs, err := s.validateDefinition(&def, s.now())
	if err != nil {
		return nil, err
	}

	c := &models.Campaign{
		OrgID:            orgID,
		BranchID:         branchID,
		Title:            def.Title,
		ChannelID:        def.ChannelID,
		Template:         def.Template,
		AudienceCategory: def.AudienceCategory,
		AudienceRef:      def.AudienceRef,
		ScheduledAt:      def.ScheduledAt,
		EndsAt:           def.EndsAt,
		UTCOffsetMin:     def.UTCOffsetMin,
		DelayMs:          delayMs,
		RetryEnabled:     def.RetryEnabled,
		Status:           models.CampaignStatusDraft,
	}

	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	// Lazily materialize the (org, branch) overview aggregate.
	if err := s.overviews.EnsureExists(ctx, orgID, branchID); err != nil {
		s.log.Error("ensure overview failed", zap.String("org_id", orgID.String()), zap.Error(err))
	}

	s.recordTimeline(ctx, orgID, "user", "campaign_created", &c.ID, map[string]any{
		"audience_category": def.AudienceCategory,
	})
	return c, nil
}

// Update rewrites a draft's definition. Non-draft campaigns are immutable
// through this path.
func (s *CampaignService) Update(ctx context.Context, orgID, branchID, id uuid.UUID, def CampaignDefinition) (*models.Campaign, error) {
	delayMs, err := s.validateDefinition(&def, s.now())
	if err != nil {
		return nil, err
	}

	existing, err := s.campaigns.GetByID(ctx, orgID, branchID, id)
	if err != nil {
		return nil, err
	}

	existing.Title = def.Title
	existing.ChannelID = def.ChannelID
	existing.Template = def.Template
	existing.AudienceCategory = def.AudienceCategory
	existing.AudienceRef = def.AudienceRef
	existing.ScheduledAt = def.ScheduledAt
	existing.EndsAt = def.EndsAt
	existing.UTCOffsetMin = def.UTCOffsetMin
	existing.DelayMs = delayMs
	existing.RetryEnabled = def.RetryEnabled

	if err := s.campaigns.UpdateDefinition(ctx, existing); err != nil {
		return nil, err
	}
	s.recordTimeline(ctx, orgID, "user", "campaign_updated", &id, nil)
	return existing, nil
}

// PublishResult reports a dispatch back to the caller. FailedBatches is
// non-empty on a partial dispatch; those batches are persisted with status
// submission_failed and need operator attention.
type PublishResult struct {
	Status        string `json:"status"`
	BatchCount    int    `json:"batch_count"`
	Recipients    int    `json:"recipients"`
	FailedBatches []int  `json:"failed_batches,omitempty"`
}

// Publish resolves the audience, plans the batch schedule, and dispatches it
// to the work queue. Exactly one of two racing publishes wins: the
// draft->active claim is a single conditional transition.
func (s *CampaignService) Publish(ctx context.Context, orgID, branchID, id uuid.UUID) (*PublishResult, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, branchID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, fmt.Errorf("campaign %s is %s: %w", id, campaign.Status, apperrors.ErrAlreadyScheduled)
	}

	// Recompute the start delay: time has passed since draft creation.
	delay := campaign.StartDelay(s.now())
	if delay < 0 {
		return nil, apperrors.ErrInvalidSchedule
	}

	resolution, err := s.resolver.Resolve(ctx, orgID, branchID, campaign.AudienceCategory, campaign.AudienceRef)
	if err != nil {
		return nil, err
	}

	balance, err := s.wallets.Balance(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("wallet check: %w", apperrors.ErrUpstreamUnavailable)
	}
	if balance < int64(resolution.Count) {
		return nil, fmt.Errorf("balance %d below audience %d: %w", balance, resolution.Count, apperrors.ErrInsufficientBalance)
	}

	channel, err := s.channels.GetByID(ctx, orgID, campaign.ChannelID)
	if err != nil {
		return nil, err
	}
	batchCap := tier.BatchCap(channel.RateClass)

	plan, err := planner.Plan(resolution.Count, batchCap, delay.Milliseconds())
	if err != nil {
		return nil, err
	}

	// Claim the campaign before touching the queue so a racing publish
	// cannot double-dispatch; the loser sees zero rows updated.
	claimed, err := s.campaigns.TransitionStatus(ctx, id, []string{models.CampaignStatusDraft}, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("campaign %s: %w", id, apperrors.ErrAlreadyScheduled)
	}

	if err := s.campaigns.SetAudience(ctx, id, resolution.Count, delay.Milliseconds()); err != nil {
		return nil, err
	}
	if err := s.overviews.AddRecipients(ctx, orgID, branchID, resolution.Count); err != nil {
		s.log.Error("overview recipients update failed", zap.String("campaign_id", id.String()), zap.Error(err))
	}

	campaign.Status = models.CampaignStatusActive
	result, err := s.dispatcher.Dispatch(ctx, campaign, plan)
	if err != nil {
		return nil, err
	}

	s.recordTimeline(ctx, orgID, "user", "campaign_published", &id, map[string]any{
		"recipients": resolution.Count,
		"batches":    len(plan),
	})
	s.publishEvent(ctx, events.EventCampaignStatusChanged, map[string]any{
		"campaign_id": id.String(),
		"org_id":      orgID.String(),
		"old_status":  models.CampaignStatusDraft,
		"new_status":  models.CampaignStatusActive,
	})

	out := &PublishResult{
		Status:     "scheduled",
		BatchCount: len(plan),
		Recipients: resolution.Count,
	}
	for _, f := range result.Failed {
		out.FailedBatches = append(out.FailedBatches, f.BatchNumber)
	}
	return out, nil
}

// Pause/resume actions
const (
	ActionPause  = "pause"
	ActionResume = "resume"
)

// PauseResume toggles active<->paused. Pausing does not reach into
// already-enqueued jobs; the worker re-checks campaign status before
// executing a batch.
func (s *CampaignService) PauseResume(ctx context.Context, orgID, branchID, id uuid.UUID, action string) (*models.Campaign, error) {
	var from, to string
	switch action {
	case ActionPause:
		from, to = models.CampaignStatusActive, models.CampaignStatusPaused
	case ActionResume:
		from, to = models.CampaignStatusPaused, models.CampaignStatusActive
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	// Scope check before the transition.
	if _, err := s.campaigns.GetByID(ctx, orgID, branchID, id); err != nil {
		return nil, err
	}

	ok, err := s.campaigns.TransitionStatus(ctx, id, []string{from}, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("campaign %s is not %s", id, from)
	}

	s.recordTimeline(ctx, orgID, "user", "campaign_"+action, &id, nil)
	s.publishEvent(ctx, events.EventCampaignStatusChanged, map[string]any{
		"campaign_id": id.String(),
		"org_id":      orgID.String(),
		"old_status":  from,
		"new_status":  to,
	})
	return s.campaigns.GetByID(ctx, orgID, branchID, id)
}

// UpdateBatchStatus records an execution-side batch outcome and reconciles
// the campaign status from the full batch set. Safe to call repeatedly:
// reconciliation is idempotent and the terminal transition is conditional.
func (s *CampaignService) UpdateBatchStatus(ctx context.Context, orgID, branchID, campaignID uuid.UUID, batchNumber int, update repositories.BatchStatusUpdate) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, branchID, campaignID)
	if err != nil {
		return nil, err
	}

	if err := s.batches.UpdateStatus(ctx, campaignID, batchNumber, update); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventBatchStatusChanged, map[string]any{
		"campaign_id":  campaignID.String(),
		"org_id":       orgID.String(),
		"batch_number": batchNumber,
		"status":       update.Status,
	})

	if update.Status == models.BatchStatusCompleted || update.Status == models.BatchStatusFailed {
		if err := s.reconcile(ctx, campaign); err != nil {
			return nil, err
		}
	}

	refreshed, err := s.campaigns.GetByID(ctx, orgID, branchID, campaignID)
	if err != nil {
		return nil, err
	}
	refreshed.Batches, err = s.batches.GetByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (s *CampaignService) reconcile(ctx context.Context, campaign *models.Campaign) error {
	batches, err := s.batches.GetByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}

	next := models.ReconcileFromBatches(batches)
	if next == "" {
		return nil
	}

	// Conditional on a non-terminal current status: redundant reconcile
	// calls and concurrent batch updates settle on one transition.
	ok, err := s.campaigns.TransitionStatus(ctx, campaign.ID,
		[]string{models.CampaignStatusActive, models.CampaignStatusPaused}, next)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.log.Info("campaign reconciled",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("status", next),
	)
	s.recordTimeline(ctx, campaign.OrgID, "system", "campaign_"+next, &campaign.ID, nil)
	s.publishEvent(ctx, events.EventCampaignStatusChanged, map[string]any{
		"campaign_id": campaign.ID.String(),
		"org_id":      campaign.OrgID.String(),
		"new_status":  next,
	})
	return nil
}

func (s *CampaignService) GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, branchID, id)
	if err != nil {
		return nil, err
	}
	campaign.Batches, err = s.batches.GetByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) List(ctx context.Context, orgID, branchID uuid.UUID, f repositories.CampaignFilter) ([]models.Campaign, error) {
	return s.campaigns.List(ctx, orgID, branchID, f)
}

func (s *CampaignService) Delete(ctx context.Context, orgID, branchID, id uuid.UUID) error {
	if err := s.campaigns.Delete(ctx, orgID, branchID, id); err != nil {
		return err
	}
	s.recordTimeline(ctx, orgID, "user", "campaign_deleted", &id, nil)
	return nil
}

// recordTimeline is fire-and-forget: audit logging never blocks or fails the
// business operation it describes.
func (s *CampaignService) recordTimeline(ctx context.Context, orgID uuid.UUID, actorType, action string, campaignID *uuid.UUID, meta map[string]any) {
	err := s.timeline.Record(ctx, models.TimelineEntry{
		OrgID:      orgID,
		ActorType:  actorType,
		Action:     action,
		CampaignID: campaignID,
		Meta:       meta,
	})
	if err != nil {
		s.log.Warn("timeline record failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *CampaignService) publishEvent(ctx context.Context, eventType string, payload map[string]any) {
	err := s.publisher.Publish(ctx, events.StreamCampaign, events.Event{Type: eventType, Payload: payload})
	if err != nil {
		s.log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}
