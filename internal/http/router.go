package http

import (
	"time"

	"github.com/chatwave/backend/internal/config"
	"github.com/chatwave/backend/internal/http/handlers"
	"github.com/chatwave/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	campaignHandler *handlers.CampaignHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/api-key", authHandler.APIKeyAuth)

	// Provider callbacks (shared-secret auth, no user token)
	api.Post("/webhooks/status", middleware.WebhookAuthMiddleware(cfg), webhookHandler.DeliveryStatus)

	// Rate-limited from here on
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Campaigns
	protected.Post("/campaigns", campaignHandler.CreateCampaign)
	protected.Get("/campaigns", campaignHandler.ListCampaigns)
	protected.Get("/campaigns/:id", campaignHandler.GetCampaign)
	protected.Put("/campaigns/:id", campaignHandler.UpdateCampaign)
	protected.Delete("/campaigns/:id", campaignHandler.DeleteCampaign)
	protected.Post("/campaigns/:id/publish", campaignHandler.PublishCampaign)
	protected.Post("/campaigns/:id/pause", campaignHandler.PauseCampaign)
	protected.Post("/campaigns/:id/resume", campaignHandler.ResumeCampaign)
	protected.Patch("/campaigns/:id/batches/:n", campaignHandler.UpdateBatchStatus)

	// Stats
	protected.Get("/overview", webhookHandler.Overview)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
