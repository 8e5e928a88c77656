package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatwave/backend/internal/audience"
	"github.com/chatwave/backend/internal/config"
	"github.com/chatwave/backend/internal/db"
	"github.com/chatwave/backend/internal/dispatcher"
	"github.com/chatwave/backend/internal/events"
	apphttp "github.com/chatwave/backend/internal/http"
	"github.com/chatwave/backend/internal/http/handlers"
	"github.com/chatwave/backend/internal/queue"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	campaignRepo := repositories.NewCampaignRepo(pool)
	batchRepo := repositories.NewBatchRepo(pool)
	overviewRepo := repositories.NewOverviewRepo(pool)
	customerRepo := repositories.NewCustomerRepo(pool)
	segmentRepo := repositories.NewSegmentRepo(pool)
	messageRepo := repositories.NewMessageRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	channelRepo := repositories.NewChannelRepo(pool)
	timelineRepo := repositories.NewTimelineRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Dispatch pipeline
	broadcastQueue := queue.NewRedisQueue(rdb, cfg.QueueName, cfg.WorkerPollInterval, log)
	batchDispatcher := dispatcher.New(broadcastQueue, batchRepo, dispatcher.Config{
		QueueName:   cfg.QueueName,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Backoff:     cfg.DispatchBackoff,
		Strategy:    cfg.BackoffStrategy,
	}, log)

	// Services
	resolver := audience.NewResolver(customerRepo, segmentRepo, log)
	campaignService := services.NewCampaignService(campaignRepo, batchRepo, overviewRepo,
		walletRepo, channelRepo, timelineRepo, resolver, batchDispatcher, publisher, log)
	statsService := services.NewStatsService(messageRepo, campaignRepo, rdb, publisher, log, cfg.StatsDedupWindow)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	campaignHandler := handlers.NewCampaignHandler(campaignService, log)
	webhookHandler := handlers.NewWebhookHandler(statsService, overviewRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, campaignHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
