package handlers

import (
	"github.com/chatwave/backend/internal/auth"
	"github.com/chatwave/backend/internal/config"
	"github.com/chatwave/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// APIKeyAuth exchanges a static integration key for a tenant-scoped JWT.
func (h *AuthHandler) APIKeyAuth(c *fiber.Ctx) error {
	var req dto.AuthAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	if !h.cfg.IsAPIKey(req.APIKey) {
		h.log.Debug("api key rejected", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid api key"})
	}
	if req.OrgID == uuid.Nil || req.BranchID == uuid.Nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "org_id and branch_id are required"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, uuid.New(), req.OrgID, req.BranchID, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("jwt generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AuthResponse{Token: token}})
}
