package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatwave/backend/internal/audience"
	"github.com/chatwave/backend/internal/config"
	"github.com/chatwave/backend/internal/db"
	"github.com/chatwave/backend/internal/dispatcher"
	"github.com/chatwave/backend/internal/events"
	"github.com/chatwave/backend/internal/queue"
	"github.com/chatwave/backend/internal/repositories"
	"github.com/chatwave/backend/internal/services"
	"github.com/chatwave/backend/internal/transport"
	"github.com/chatwave/backend/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	campaignRepo := repositories.NewCampaignRepo(pool)
	batchRepo := repositories.NewBatchRepo(pool)
	overviewRepo := repositories.NewOverviewRepo(pool)
	customerRepo := repositories.NewCustomerRepo(pool)
	segmentRepo := repositories.NewSegmentRepo(pool)
	messageRepo := repositories.NewMessageRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	channelRepo := repositories.NewChannelRepo(pool)
	timelineRepo := repositories.NewTimelineRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)

	// The worker reports batch outcomes through the campaign service so
	// campaign status reconciliation runs on the same path as the API.
	broadcastQueue := queue.NewRedisQueue(rdb, cfg.QueueName, cfg.WorkerPollInterval, log)
	batchDispatcher := dispatcher.New(broadcastQueue, batchRepo, dispatcher.Config{
		QueueName:   cfg.QueueName,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Backoff:     cfg.DispatchBackoff,
		Strategy:    cfg.BackoffStrategy,
	}, log)
	resolver := audience.NewResolver(customerRepo, segmentRepo, log)
	campaignService := services.NewCampaignService(campaignRepo, batchRepo, overviewRepo,
		walletRepo, channelRepo, timelineRepo, resolver, batchDispatcher, publisher, log)

	sender := transport.NewWhatsAppClient(cfg.WABAAPIURL, cfg.WABAToken, cfg.SendsPerSecond, log)
	executor := worker.NewExecutor(campaignRepo, batchRepo, customerRepo, resolver,
		messageRepo, channelRepo, overviewRepo, campaignService, sender, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started", zap.String("queue", cfg.QueueName))
	if err := broadcastQueue.Run(ctx, executor.Handle); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("queue runner stopped", zap.Error(err))
	}
}
