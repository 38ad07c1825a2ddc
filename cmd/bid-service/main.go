package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/api/handlers"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/config"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/infrastructure/mysql"
	redisinfra "github.com/AlexisRellon/JunkHop-development-sub000/internal/infrastructure/redis"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Initialize MySQL
	db, err := mysql.Connect(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bidRepo := redisinfra.NewCachedBidRepository(
		mysql.NewMySQLBidRepository(db), rdb, cfg.Redis.BidCacheTTL, log)
	subRepo := mysql.NewMySQLSubscriptionRepository(db)
	itemCatalog := mysql.NewMySQLItemCatalog(db)
	notifier := redisinfra.NewRedisNotificationGateway(rdb)
	clk := clock.System()

	ledger := services.NewBidLedger(bidRepo, notifier, clk, log)
	engine := services.NewSubscriptionEngine(subRepo, ledger, itemCatalog, notifier, clk, cfg.Scheduler.PageSize, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	handlers.NewBidHandler(ledger, log).Register(e)
	handlers.NewSubscriptionHandler(engine, log).Register(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Bid service listening", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("Server stopped", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bid service")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", "error", err)
	}
}
