package handlers

import (
	"errors"
	"strconv"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/http/dto"
	"github.com/chatwave/backend/internal/middleware"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CampaignHandler struct {
	campaignService *services.CampaignService
	log             *zap.Logger
}

func NewCampaignHandler(campaignService *services.CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService, log: log}
}

// statusFor maps domain errors onto HTTP statuses. Validation errors are 422,
// conflicts 409, missing resources 404.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrCampaignNotFound),
		errors.Is(err, apperrors.ErrSegmentNotFound),
		errors.Is(err, apperrors.ErrBatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrAlreadyScheduled):
		return fiber.StatusConflict
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return fiber.StatusBadGateway
	case apperrors.IsValidation(err):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusBadRequest
	}
}

func definitionFromRequest(req dto.CreateCampaignRequest) services.CampaignDefinition {
	return services.CampaignDefinition{
		Title:            req.Title,
		ChannelID:        req.ChannelID,
		Template:         req.Template,
		AudienceCategory: req.AudienceCategory,
		AudienceRef:      req.AudienceRef,
		ScheduledAt:      req.ScheduledAt,
		EndsAt:           req.EndsAt,
		UTCOffsetMin:     req.UTCOffsetMin,
		RetryEnabled:     req.RetryEnabled,
	}
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title is required"})
	}

	campaign, err := h.campaignService.Create(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), definitionFromRequest(req))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	campaign, err := h.campaignService.GetByID(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	filter := repositories.CampaignFilter{Limit: 20}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("category"); v != "" {
		filter.Category = &v
	}

	campaigns, err := h.campaignService.List(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), filter)
	if err != nil {
		h.log.Error("list campaigns failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaigns})
}

func (h *CampaignHandler) UpdateCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	var req dto.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	campaign, err := h.campaignService.Update(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id, definitionFromRequest(req))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) PublishCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	result, err := h.campaignService.Publish(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	status := fiber.StatusOK
	if len(result.FailedBatches) > 0 {
		// Partial dispatch: report it honestly, the campaign is live.
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	return h.pauseResume(c, services.ActionPause)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	return h.pauseResume(c, services.ActionResume)
}

func (h *CampaignHandler) pauseResume(c *fiber.Ctx, action string) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	campaign, err := h.campaignService.PauseResume(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id, action)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

// UpdateBatchStatus lets execution infrastructure report a batch outcome.
func (h *CampaignHandler) UpdateBatchStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}
	batchNumber, err := strconv.Atoi(c.Params("n"))
	if err != nil || batchNumber < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid batch number"})
	}

	var req dto.UpdateBatchStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	campaign, err := h.campaignService.UpdateBatchStatus(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id, batchNumber,
		repositories.BatchStatusUpdate{
			Status:             req.Status,
			ProcessedCustomers: req.ProcessedCustomers,
			Error:              req.Error,
		})
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) DeleteCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	if err := h.campaignService.Delete(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c), id); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}
