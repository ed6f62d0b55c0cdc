package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hqpham/shop-checkout/internal/adapter/handler"
	"github.com/hqpham/shop-checkout/internal/adapter/storage"
	"github.com/hqpham/shop-checkout/internal/config"
	"github.com/hqpham/shop-checkout/internal/core/service"
	"github.com/hqpham/shop-checkout/internal/logger"
	"github.com/hqpham/shop-checkout/internal/reconcile"
	"github.com/hqpham/shop-checkout/internal/retry"
)

func main() {
	log := logger.Must(logger.New())
	defer log.Sync()

	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN())
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql", zap.String("database", cfg.MySQL.Database))

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// Adapters
	volatile := storage.NewRedisStore(rdb)
	durable := storage.NewMySQLStore(db)

	// Coordinator
	checkoutSvc := service.NewCheckoutService(
		service.Deps{
			Ledger:    volatile,
			Contents:  volatile,
			Store:     durable,
			Catalog:   durable,
			Users:     durable,
			Inventory: durable,
		},
		service.Config{
			Reserve: retry.Policy{
				MaxAttempts: cfg.Checkout.ReserveMaxAttempts,
				BaseDelay:   cfg.Checkout.ReserveBaseBackoff,
				MaxDelay:    cfg.Checkout.ReserveMaxBackoff,
			},
			ReserveTimeout: cfg.Checkout.ReserveTimeout,
			CommitTimeout:  cfg.Checkout.CommitTimeout,
			SyncWorkers:    cfg.Inventory.SyncWorkers,
			SyncQueueSize:  cfg.Inventory.SyncQueueSize,
		},
		log,
	)

	// Seed the ledger from the durable snapshot
	if err := checkoutSvc.WarmLedger(ctx, cfg.Inventory.Products); err != nil {
		log.Fatal("failed to warm stock ledger", zap.Error(err))
	}

	// Drift reconciler
	reconciler := reconcile.New(volatile, durable, cfg.Inventory.Products, log)
	if err := reconciler.Start(cfg.Inventory.ReconcileSchedule); err != nil {
		log.Fatal("failed to start reconciler", zap.Error(err))
	}

	// HTTP server
	httpHandler := handler.NewHTTPHandler(checkoutSvc, volatile)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}

	go func() {
		log.Info("http server listening", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	reconciler.Stop()
	log.Info("reconciler stopped")

	checkoutSvc.Close()
	log.Info("inventory sync drained")

	rdb.Close()
	db.Close()
	log.Info("connections closed")
}
