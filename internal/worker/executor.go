package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/dispatcher"
	"github.com/chatwave/backend/internal/models"
	"github.com/chatwave/backend/internal/queue"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender is the outbound message transport, one call per recipient.
type Sender interface {
	Send(ctx context.Context, channelPhoneID, toPhone string, content models.MessageContent) (string, error)
}

type executionCampaignStore interface {
	GetForExecution(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	IncrementEnqueued(ctx context.Context, id uuid.UUID, by int) error
}

type executionBatchStore interface {
	GetBatch(ctx context.Context, campaignID uuid.UUID, batchNumber int) (*models.Batch, error)
	UpdateStatus(ctx context.Context, campaignID uuid.UUID, batchNumber int, update repositories.BatchStatusUpdate) error
}

type customerWindower interface {
	WindowByIDs(ctx context.Context, orgID, branchID uuid.UUID, ids []uuid.UUID, start, end int) ([]models.Customer, error)
	WindowByLists(ctx context.Context, orgID, branchID uuid.UUID, listIDs []uuid.UUID, start, end int) ([]models.Customer, error)
	WindowByQuery(ctx context.Context, orgID, branchID uuid.UUID, where string, args []any, start, end int) ([]models.Customer, error)
}

type segmentCompiler interface {
	CompileSegmentQuery(ctx context.Context, orgID, branchID uuid.UUID, ref []uuid.UUID) (string, []any, error)
}

type outboundStore interface {
	Create(ctx context.Context, m *models.OutboundMessage) error
}

type executionChannelStore interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Channel, error)
}

type enqueuedAdder interface {
	AddEnqueued(ctx context.Context, orgID, branchID uuid.UUID, enqueued int) error
}

type batchReporter interface {
	UpdateBatchStatus(ctx context.Context, orgID, branchID, campaignID uuid.UUID, batchNumber int, update repositories.BatchStatusUpdate) (*models.Campaign, error)
}

// Executor runs one broadcast batch per queue job: it pages the batch's
// recipient window, sends each message, and reports the batch outcome so the
// campaign can reconcile.
type Executor struct {
	campaigns executionCampaignStore
	batches   executionBatchStore
	customers customerWindower
	segments  segmentCompiler
	messages  outboundStore
	channels  executionChannelStore
	overviews enqueuedAdder
	reporter  batchReporter
	sender    Sender
	log       *zap.Logger

	// pageSize bounds one customer fetch; checkpoints land on page edges.
	pageSize int
}

func NewExecutor(
	campaigns *repositories.CampaignRepo,
	batches *repositories.BatchRepo,
	customers *repositories.CustomerRepo,
	segments segmentCompiler,
	messages *repositories.MessageRepo,
	channels *repositories.ChannelRepo,
	overviews *repositories.OverviewRepo,
	reporter *services.CampaignService,
	sender Sender,
	log *zap.Logger,
) *Executor {
	return &Executor{
		campaigns: campaigns,
		batches:   batches,
		customers: customers,
		segments:  segments,
		messages:  messages,
		channels:  channels,
		overviews: overviews,
		reporter:  reporter,
		sender:    sender,
		log:       log,
		pageSize:  100,
	}
}

// Handle is the queue handler for broadcast batch jobs.
func (e *Executor) Handle(ctx context.Context, job queue.Job) error {
	var payload dispatcher.BatchJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Undecodable payloads can never succeed; let the queue bury them.
		return fmt.Errorf("decode batch payload: %v", err)
	}

	campaign, err := e.campaigns.GetForExecution(ctx, payload.CampaignID)
	if err != nil {
		if errors.Is(err, apperrors.ErrCampaignNotFound) {
			e.log.Warn("job for deleted campaign dropped",
				zap.String("campaign_id", payload.CampaignID.String()))
			return nil
		}
		return err
	}

	switch campaign.Status {
	case models.CampaignStatusActive:
		// proceed
	case models.CampaignStatusPaused:
		return fmt.Errorf("campaign %s paused: %w", campaign.ID, queue.ErrPostpone)
	default:
		// Terminal campaign: the batch will never run. Record that and
		// consume the job.
		reason := fmt.Sprintf("campaign is %s", campaign.Status)
		e.reportOutcome(ctx, campaign, payload.BatchNumber, repositories.BatchStatusUpdate{
			Status: models.BatchStatusFailed,
			Error:  &reason,
		})
		return nil
	}

	batch, err := e.batches.GetBatch(ctx, payload.CampaignID, payload.BatchNumber)
	if err != nil {
		return err
	}
	if batch.Status == models.BatchStatusCompleted || batch.Status == models.BatchStatusFailed {
		e.log.Info("batch already settled, skipping redelivery",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("batch_number", batch.BatchNumber),
		)
		return nil
	}

	channel, err := e.channels.GetByID(ctx, campaign.OrgID, campaign.ChannelID)
	if err != nil {
		failMsg := err.Error()
		e.reportOutcome(ctx, campaign, batch.BatchNumber, repositories.BatchStatusUpdate{
			Status: models.BatchStatusFailed,
			Error:  &failMsg,
		})
		return nil
	}

	if err := e.batches.UpdateStatus(ctx, campaign.ID, batch.BatchNumber, repositories.BatchStatusUpdate{
		Status: models.BatchStatusInProgress,
	}); err != nil {
		return err
	}

	outcome := e.runBatch(ctx, campaign, batch, channel)
	e.reportOutcome(ctx, campaign, batch.BatchNumber, outcome.update)
	return outcome.err
}

type batchOutcome struct {
	update repositories.BatchStatusUpdate
	err    error
}

// runBatch sends the batch's recipient window page by page. Execution resumes
// from the processed-customers checkpoint, so a redelivered job does not
// resend messages that already went out.
func (e *Executor) runBatch(ctx context.Context, campaign *models.Campaign, batch *models.Batch, channel *models.Channel) batchOutcome {
	processed := batch.ProcessedCustomers
	sendFailures := 0

	for start := batch.StartID + processed; start < batch.EndID; {
		end := start + e.pageSize
		if end > batch.EndID {
			end = batch.EndID
		}

		page, err := e.loadWindow(ctx, campaign, start, end)
		if err != nil {
			msg := err.Error()
			return batchOutcome{update: repositories.BatchStatusUpdate{
				Status:             models.BatchStatusFailed,
				ProcessedCustomers: &processed,
				Error:              &msg,
			}}
		}
		if len(page) == 0 {
			break
		}

		pageSent := 0
		for _, customer := range page {
			providerID, err := e.sender.Send(ctx, channel.PhoneNumber, customer.Phone,
				personalize(campaign.Template, customer))
			if errors.Is(err, apperrors.ErrUpstreamUnavailable) || errors.Is(err, context.Canceled) {
				// Transient outage: checkpoint and let the queue retry
				// the remainder of the window.
				e.checkpoint(ctx, campaign.ID, batch.BatchNumber, processed)
				return batchOutcome{
					update: repositories.BatchStatusUpdate{
						Status:             models.BatchStatusInProgress,
						ProcessedCustomers: &processed,
					},
					err: err,
				}
			}
			if err != nil {
				// Per-recipient rejection (bad number, policy block).
				// The batch keeps going.
				sendFailures++
				processed++
				e.log.Warn("send rejected",
					zap.String("campaign_id", campaign.ID.String()),
					zap.String("customer_id", customer.ID.String()),
					zap.Error(err),
				)
				continue
			}

			if err := e.messages.Create(ctx, &models.OutboundMessage{
				CampaignID:        campaign.ID,
				BatchNumber:       batch.BatchNumber,
				CustomerID:        customer.ID,
				ProviderMessageID: providerID,
				Status:            models.MessageStatusEnqueued,
			}); err != nil {
				e.log.Error("record outbound message",
					zap.String("provider_message_id", providerID), zap.Error(err))
			}
			processed++
			pageSent++
		}

		if pageSent > 0 {
			if err := e.campaigns.IncrementEnqueued(ctx, campaign.ID, pageSent); err != nil {
				e.log.Warn("enqueued counter update failed", zap.Error(err))
			}
			if err := e.overviews.AddEnqueued(ctx, campaign.OrgID, campaign.BranchID, pageSent); err != nil {
				e.log.Warn("overview enqueued update failed", zap.Error(err))
			}
		}
		e.checkpoint(ctx, campaign.ID, batch.BatchNumber, processed)

		start = end
	}

	if sendFailures > 0 && sendFailures == processed-batch.ProcessedCustomers {
		msg := fmt.Sprintf("all %d sends rejected", sendFailures)
		return batchOutcome{update: repositories.BatchStatusUpdate{
			Status:             models.BatchStatusFailed,
			ProcessedCustomers: &processed,
			Error:              &msg,
		}}
	}

	e.log.Info("batch finished",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("batch_number", batch.BatchNumber),
		zap.Int("processed", processed),
		zap.Int("rejected", sendFailures),
	)
	return batchOutcome{update: repositories.BatchStatusUpdate{
		Status:             models.BatchStatusCompleted,
		ProcessedCustomers: &processed,
	}}
}

func (e *Executor) loadWindow(ctx context.Context, campaign *models.Campaign, start, end int) ([]models.Customer, error) {
	switch campaign.AudienceCategory {
	case models.AudienceCategoryManual:
		return e.customers.WindowByIDs(ctx, campaign.OrgID, campaign.BranchID, campaign.AudienceRef, start, end)
	case models.AudienceCategoryList:
		return e.customers.WindowByLists(ctx, campaign.OrgID, campaign.BranchID, campaign.AudienceRef, start, end)
	case models.AudienceCategorySegment:
		where, args, err := e.segments.CompileSegmentQuery(ctx, campaign.OrgID, campaign.BranchID, campaign.AudienceRef)
		if err != nil {
			return nil, err
		}
		return e.customers.WindowByQuery(ctx, campaign.OrgID, campaign.BranchID, where, args, start, end)
	default:
		return nil, fmt.Errorf("category %q: %w", campaign.AudienceCategory, apperrors.ErrInvalidAudienceCategory)
	}
}

// personalize substitutes per-recipient placeholders into a copy of the
// campaign template. The campaign's own template is never mutated.
func personalize(content models.MessageContent, customer models.Customer) models.MessageContent {
	sub := func(s string) string {
		return strings.ReplaceAll(s, "{{name}}", customer.Name)
	}

	switch content.Kind {
	case models.ContentKindText:
		if content.Text != nil {
			text := *content.Text
			text.Body = sub(text.Body)
			content.Text = &text
		}
	case models.ContentKindMedia:
		if content.Media != nil {
			media := *content.Media
			media.Caption = sub(media.Caption)
			content.Media = &media
		}
	case models.ContentKindInteractive:
		if content.Interactive != nil {
			interactive := *content.Interactive
			interactive.Body = sub(interactive.Body)
			content.Interactive = &interactive
		}
	case models.ContentKindTemplate:
		if content.Template != nil {
			tmpl := *content.Template
			if len(tmpl.BodyParams) > 0 {
				params := make([]string, len(tmpl.BodyParams))
				for i, p := range tmpl.BodyParams {
					params[i] = sub(p)
				}
				tmpl.BodyParams = params
			}
			content.Template = &tmpl
		}
	}
	return content
}

// checkpoint persists the in-flight processed count. Best-effort: a lost
// checkpoint means some duplicate sends on redelivery, not lost recipients.
func (e *Executor) checkpoint(ctx context.Context, campaignID uuid.UUID, batchNumber, processed int) {
	err := e.batches.UpdateStatus(ctx, campaignID, batchNumber, repositories.BatchStatusUpdate{
		Status:             models.BatchStatusInProgress,
		ProcessedCustomers: &processed,
	})
	if err != nil {
		e.log.Warn("checkpoint failed",
			zap.String("campaign_id", campaignID.String()),
			zap.Int("batch_number", batchNumber),
			zap.Error(err),
		)
	}
}

// reportOutcome routes terminal batch states through the campaign service so
// reconciliation runs. In-progress updates go straight to the batch store.
func (e *Executor) reportOutcome(ctx context.Context, campaign *models.Campaign, batchNumber int, update repositories.BatchStatusUpdate) {
	if update.Status != models.BatchStatusCompleted && update.Status != models.BatchStatusFailed {
		return
	}
	_, err := e.reporter.UpdateBatchStatus(ctx, campaign.OrgID, campaign.BranchID, campaign.ID, batchNumber, update)
	if err != nil {
		e.log.Error("batch outcome report failed",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("batch_number", batchNumber),
			zap.String("status", update.Status),
			zap.Error(err),
		)
	}
}
