package handlers

import (
	"github.com/chatwave/backend/internal/http/dto"
	"github.com/chatwave/backend/internal/middleware"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WebhookHandler ingests provider delivery-status callbacks and exposes the
// per-tenant stats overview.
type WebhookHandler struct {
	statsService *services.StatsService
	overviews    *repositories.OverviewRepo
	log          *zap.Logger
}

func NewWebhookHandler(statsService *services.StatsService, overviews *repositories.OverviewRepo, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{statsService: statsService, overviews: overviews, log: log}
}

// DeliveryStatus receives one receipt from the provider. Always 200 on
// processed input so the provider stops redelivering; duplicates and
// non-broadcast messages are acknowledged, not errors.
func (h *WebhookHandler) DeliveryStatus(c *fiber.Ctx) error {
	var req dto.DeliveryStatusWebhook
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.MessageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "message_id is required"})
	}

	result, err := h.statsService.ApplyDeliveryEvent(c.Context(), services.DeliveryEvent{
		ProviderMessageID: req.MessageID,
		Status:            req.Status,
		OccurredAt:        req.OccurredAt,
	})
	if err != nil {
		h.log.Warn("delivery event rejected",
			zap.String("message_id", req.MessageID),
			zap.String("status", req.Status),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"applied":   result.Applied,
		"duplicate": result.Duplicate,
	}})
}

// Overview returns the aggregate campaign counters for the caller's tenant.
func (h *WebhookHandler) Overview(c *fiber.Ctx) error {
	overview, err := h.overviews.Get(c.Context(),
		middleware.GetOrgID(c), middleware.GetBranchID(c))
	if err != nil {
		h.log.Error("overview fetch failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: overview})
}
