package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fauzanteza/mesin-cuci-store-sub002/config"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/handler"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/cache"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/database"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/kafka"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/tracing"
)

// @title Order Engine API
// @version 1.0
// @description 结账、订单状态机、库存流水与支付回调
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("init database", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// 缓存只是加速，redis 不可用时照常服务
		logger.Warn("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	taxRate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil {
		logger.Fatal("invalid checkout.tax_rate", zap.String("value", cfg.Checkout.TaxRate), zap.Error(err))
	}

	// services
	ledger := service.NewStockLedger(db)
	notifier := service.NewNotifier()
	sales := service.NewSalesCounter(db, cfg.Workers.SalesQueueSize)
	stopSales := sales.Start(cfg.Workers.SalesWorkers)
	orderCache := cache.NewOrderCache(rdb, cfg.Redis.OrderTTL)

	checkout := service.NewCheckoutService(db, ledger, notifier, service.CheckoutOptions{
		TaxRate:           taxRate,
		OrderNumberPrefix: cfg.Checkout.OrderNumberPrefix,
	}).
		WithCache(orderCache).
		WithSalesCounter(sales).
		WithIdempotency(cache.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL).WithPendingTTL(cfg.Redis.IdempotencyPendingTTL))
	orders := service.NewOrderService(db, service.NewStateMachine(ledger), notifier).
		WithCache(orderCache).
		WithSalesCounter(sales).
		WithBulkConcurrency(cfg.Workers.BulkConcurrency)

	// outbox relay; 未配置 kafka 时只打日志
	kc := kafka.NewClient(cfg.Kafka.Brokers)
	var publisher service.Publisher = service.LogPublisher{}
	var closers []func() error
	if kc.Enabled() {
		writer := kc.NewWriter(cfg.Kafka.OrderEventsTopic)
		closers = append(closers, writer.Close)
		publisher = service.NewKafkaPublisher(writer)
	}
	relay := service.NewOutboxRelay(db, publisher, cfg.Workers.OutboxWorkers, cfg.Workers.OutboxBatch, cfg.Workers.OutboxPollInterval).
		WithLease(cfg.Workers.OutboxLease)
	stopRelay := relay.Start()

	consumerDone := make(chan struct{})
	if kc.Enabled() {
		reader := kc.NewReader(cfg.Kafka.PaymentResultTopic, cfg.Kafka.GroupID)
		closers = append(closers, reader.Close)
		go func() {
			defer close(consumerDone)
			service.NewPaymentConsumer(reader, orders).Run(ctx)
		}()
	} else {
		close(consumerDone)
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(cfg, handler.NewHandler(checkout, orders, ledger), orders)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()
	logger.Info("order engine started",
		zap.Int("port", cfg.Server.Port),
		zap.String("db", cfg.Database.Driver),
		zap.Bool("kafka", kc.Enabled()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停入口，再排空后台任务
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	<-consumerDone
	if err := stopRelay(shutdownCtx); err != nil {
		logger.Warn("outbox relay shutdown", zap.Error(err))
	}
	if err := stopSales(shutdownCtx); err != nil {
		logger.Warn("sales counter shutdown", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close kafka client", zap.Error(err))
		}
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("close redis", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
