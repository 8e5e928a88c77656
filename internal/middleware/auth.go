package middleware

import (
	"strings"

	"github.com/chatwave/backend/internal/auth"
	"github.com/chatwave/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CtxUserID   = "user_id"
	CtxOrgID    = "org_id"
	CtxBranchID = "branch_id"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxOrgID, claims.OrgID)
		c.Locals(CtxBranchID, claims.BranchID)

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetOrgID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxOrgID).(uuid.UUID)
	return id
}

func GetBranchID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxBranchID).(uuid.UUID)
	return id
}

// WebhookAuthMiddleware verifies the shared secret provider callbacks carry.
// Webhook requests have no user token.
func WebhookAuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.WebhookSecret == "" {
			return c.Next()
		}
		if c.Get("X-Webhook-Secret") != cfg.WebhookSecret {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook secret"})
		}
		return c.Next()
	}
}
