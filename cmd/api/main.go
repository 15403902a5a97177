package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SignalCAD/internal/config"
	"SignalCAD/internal/pkg"
	"SignalCAD/internal/repository/mysql"
	"SignalCAD/internal/repository/redis"
	"SignalCAD/internal/router"
	"SignalCAD/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config failed", err)
	}

	// 签名密钥缺失直接退出
	tokens, err := pkg.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		fatal(logger, "token manager init failed", err)
	}

	db, err := mysql.Open(cfg.MySQLDSN)
	if err != nil {
		fatal(logger, "mysql connect failed", err)
	}
	// 自动建表（开发阶段 OK）
	if err := mysql.AutoMigrate(db); err != nil {
		fatal(logger, "mysql migrate failed", err)
	}

	var (
		seq      mysql.SequenceAllocator = mysql.NewSequenceRepository(db, cfg.SequenceStart)
		sessions service.SessionStore
		cache    service.IdentityCache
		lock     service.Locker
	)
	if cfg.RedisAddr != "" {
		rdb, err := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fatal(logger, "redis connect failed", err)
		}
		defer rdb.Close()
		sessions = &redis.SessionRepository{RDB: rdb}
		cache = redis.NewIdentityCache(rdb)
		lock = &redis.DistLock{RDB: rdb}
		if cfg.SequenceBackend == config.SequenceBackendRedis {
			seq = &redis.SequenceRepository{RDB: rdb, Start: cfg.SequenceStart}
		}
	} else {
		logger.Warn("redis disabled, sessions are not tracked",
			"event", "redis_disabled",
			"module", "cmd/api",
		)
	}

	users := &mysql.UserRepository{DB: db, Seq: seq}
	communities := &mysql.CommunityRepository{DB: db, Seq: seq}

	userSvc := service.NewUserService(users, pkg.NewPasswordHasher(cfg.BcryptCost), tokens, sessions, logger)
	enricher := service.NewEnricher(users, cache, cfg.EnrichConcurrency, logger)
	communitySvc := service.NewCommunityService(communities, users, enricher, logger)

	sender := service.LogSender(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		defer producer.Close()
		sender = service.KafkaSender(producer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 后台任务：outbox 投递、成员索引对账
	var wg sync.WaitGroup
	relayer := service.NewOutboxRelayer(&mysql.OutboxRepository{DB: db}, sender, cfg.OutboxInterval, logger).WithLock(lock)
	reconciler := service.NewMembershipReconciler(users, communitySvc, cfg.ReconcileInterval, logger).WithLock(lock)
	wg.Add(2)
	go func() { defer wg.Done(); relayer.Run(ctx) }()
	go func() { defer wg.Done(); reconciler.Run(ctx) }()

	// Gin
	r := router.InitRouter(router.Deps{
		Users:          userSvc,
		Communities:    communitySvc,
		RequestTimeout: cfg.RequestTimeout,
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateBurst:  cfg.AuthRateBurst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "event", "http_listen", "module", "cmd/api", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "event", "http_failed", "module", "cmd/api", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "event", "http_shutdown_failed", "module", "cmd/api", "error", err.Error())
	}
	wg.Wait()
	logger.Info("server stopped", "event", "shutdown", "module", "cmd/api")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "event", "startup_failed", "module", "cmd/api", "error", err.Error())
	os.Exit(1)
}
