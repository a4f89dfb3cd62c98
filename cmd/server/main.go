package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"print_upload/internal/commission"
	"print_upload/internal/config"
	"print_upload/internal/export"
	"print_upload/internal/flow"
	"print_upload/internal/preflight"
	"print_upload/internal/queue"
	"print_upload/internal/router"
	"print_upload/internal/store"
	"print_upload/internal/upload"
	"print_upload/internal/webhook"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置，这里只能用默认输出
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	// 1. 数据库，自动建表
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	st := store.New(db)

	// 2. Redis：预检任务流、限流、投递锁
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatalf("redis ping: %v", err)
	}

	// 3. 领域组件
	ledger := commission.NewLedger(db, logger, cfg.CommissionFee, cfg.CancelPolicy)
	flowQueue := flow.NewQueue(db, st, flow.NewAutomationClient(cfg.FlowAPIVersion), logger, cfg.FlowBaseBackoff)
	dispatcher := preflight.NewDispatcher(st, st, queue.NewStreamEnqueuer(rdb, cfg.PreflightStream), flowQueue, logger)
	ingestor := webhook.NewIngestor(st, ledger, logger, cfg.UploadPropertyName)
	uploads := upload.NewService(st, logger)
	exports := export.NewService(db, flowQueue, logger, cfg.ExportDir, cfg.PublicBaseURL)

	// 4. 后台任务：Stream → Kafka 转发、结论消费、出站通知投递
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.PreflightJobTopic)
	relay := queue.NewRelay(rdb, producer, logger, cfg.PreflightStream, cfg.PreflightGroup, cfg.PreflightConsumer)
	verdicts := queue.NewVerdictConsumer(cfg.KafkaBrokers, cfg.PreflightVerdictTopic, cfg.VerdictGroupID, dispatcher, rdb, logger)
	flowDispatcher := flow.NewDispatcher(flowQueue, redislock.New(rdb), logger, cfg.FlowPollInterval, cfg.FlowBatchSize)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){relay.Run, verdicts.Run, flowDispatcher.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(bgCtx)
		}(run)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Store:     st,
		Uploads:   uploads,
		Preflight: dispatcher,
		Webhooks:  ingestor,
		Ledger:    ledger,
		Flow:      flowQueue,
		Exports:   exports,
		Redis:     rdb,
		Logger:    logger,
	}, cfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-sigCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}

	stopBackground()
	_ = verdicts.Close()
	wg.Wait()
	_ = producer.Close()
	_ = rdb.Close()
	logger.Info("bye")
}
