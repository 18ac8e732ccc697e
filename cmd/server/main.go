package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/handler"
	"assetledger/internal/infrastructure/cache"
	"assetledger/internal/infrastructure/database"
	"assetledger/internal/infrastructure/lock"
	"assetledger/internal/infrastructure/mq"
	"assetledger/internal/job"
	"assetledger/internal/service"
	"assetledger/pkg/idgen"
	"assetledger/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Business.IDWorkerID); err != nil {
		log.Fatal().Err(err).Msg("初始化ID生成器失败")
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("连接 MySQL 失败")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("数据库迁移失败")
	}

	// 初始化 Redis：顾客锁和资产汇总缓存
	opts := service.Options{Locker: lock.NewLocalLocker()}
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis 不可用，使用进程内锁且不启用资产缓存")
	} else {
		defer redisClient.Close()
		opts.Cache = cache.NewAssetCache(redisClient, time.Duration(cfg.Business.AssetCacheTTLSeconds)*time.Second)
		if cfg.Business.CustomerLockEnabled {
			opts.Locker = lock.NewRedisLocker(redisClient, time.Duration(cfg.Business.CustomerLockTTLSeconds)*time.Second)
		}
	}
	if !cfg.Business.CustomerLockEnabled {
		opts.Locker = lock.NopLocker{}
	}

	// 初始化 Kafka
	publisher, err := mq.NewPublisher(&cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("连接 Kafka 失败")
	}
	defer publisher.Close()

	svc := service.NewServices(db, cfg, opts)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg, publisher)
	go outboxSender.Start(ctx)

	sweeper := job.NewExpirySweeper(cfg.Business.ExpirySweepSpec, cfg.Business.ExpirySweepBatchSize, svc.Coupon, svc.MemberCard)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("启动过期扫描失败")
	}

	// 设置路由
	router := handler.SetupRouter(svc)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()
	sweeper.Stop()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("服务关闭异常")
	}

	log.Info().Msg("服务已关闭")
}
