package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/config"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/infrastructure/leader"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/infrastructure/mysql"
	redisinfra "github.com/AlexisRellon/JunkHop-development-sub000/internal/infrastructure/redis"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

// The renewal worker drives the periodic scans: ended-auction closing, due
// subscription renewals, and upcoming-renewal reminders. Multiple replicas
// may run; leader election picks the one that works.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	db, err := mysql.Connect(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bidRepo := mysql.NewMySQLBidRepository(db)
	subRepo := mysql.NewMySQLSubscriptionRepository(db)
	itemCatalog := mysql.NewMySQLItemCatalog(db)
	notifier := redisinfra.NewRedisNotificationGateway(rdb)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)
	clk := clock.System()

	ledger := services.NewBidLedger(bidRepo, notifier, clk, log)
	closer := services.NewAuctionCloser(bidRepo, notifier, cfg.Scheduler.PageSize, log)
	engine := services.NewSubscriptionEngine(subRepo, ledger, itemCatalog, notifier, clk, cfg.Scheduler.PageSize, log)

	scheduler := services.NewBatchScheduler(
		closer,
		engine,
		leaderElection,
		clk,
		cfg.Instance.ID,
		cfg.Scheduler.CloseSpec,
		cfg.Scheduler.RenewalSpec,
		cfg.Scheduler.ReminderSpec,
		log,
	)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := scheduler.Start(runCtx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	log.Info("Renewal worker started", "instance_id", cfg.Instance.ID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down renewal worker")
	stop()
	if err := scheduler.Stop(); err != nil {
		log.Error("Scheduler shutdown failed", "error", err)
	}
}
