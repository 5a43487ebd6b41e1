package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/backend/blob"
	"sudooom.im.ripple/internal/backend/memory"
	"sudooom.im.ripple/internal/backend/postgres"
	"sudooom.im.ripple/internal/backend/presence"
	"sudooom.im.ripple/internal/backend/realtime"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/health"
	"sudooom.im.ripple/internal/localstore"
	"sudooom.im.ripple/internal/router"
	"sudooom.im.ripple/internal/smartreply"
	"sudooom.im.ripple/internal/workerpool"
	"sudooom.im.ripple/pkg/jwt"
	"sudooom.im.ripple/pkg/snowflake"
)

func main() {
	// 加载配置，配置文件缺失时使用默认值
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		slog.Warn("Config file unavailable, using defaults", "error", err)
		if cfg, err = config.Load(""); err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)
	if !strings.EqualFold(cfg.App.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := localstore.Open(cfg.Local.Dir)
	if err != nil {
		logger.Error("Failed to open local store", "dir", cfg.Local.Dir, "error", err)
		os.Exit(1)
	}

	be, suggester, checker, cleanup := setupBackend(ctx, cfg)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	pool := workerpool.New(cfg.Gallery.Workers, cfg.Gallery.Workers*16, logger)
	defer pool.Shutdown()

	client := app.New(app.Options{
		Config:    cfg,
		Backend:   be,
		Local:     local,
		Suggester: suggester,
		Pool:      pool,
	})
	if err := client.Start(ctx); err != nil {
		logger.Error("Failed to start client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	server := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           router.SetupRouter(client, jwtService, checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server started", "addr", server.Addr, "mode", be.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Ripple stopped")
}

// connect 联网模式：PostgreSQL 文档存储与认证、NATS 变更通知与智能回复、Redis 在线状态、MongoDB 对象存储
func connect(ctx context.Context, cfg *config.Config) (*backend.Backend, smartreply.Suggester, *health.Checker, []func(), error) {
	logger := slog.Default()
	var cleanup []func()
	fail := func(err error) (*backend.Backend, smartreply.Suggester, *health.Checker, []func(), error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		return nil, nil, nil, nil, err
	}

	// 连接数据库
	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, db.Close)
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fail(err)
	}
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 连接 NATS
	natsClient, err := realtime.NewClient(cfg.NATS)
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, natsClient.Close)
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := presence.NewRedisClient(cfg.Redis)
	cleanup = append(cleanup, func() { _ = redisClient.Close() })
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fail(err)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())

	// 连接 MongoDB
	mongoClient, err := blob.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { _ = mongoClient.Disconnect(context.Background()) })
	objects, err := blob.NewStore(mongoClient, cfg.Mongo, cfg.App.PublicBaseURL, cfg.Upload.ChunkSize)
	if err != nil {
		return fail(err)
	}
	logger.Info("Connected to MongoDB", "database", cfg.Mongo.Database)

	store := postgres.NewStore(db, realtime.NewFeed(natsClient.Conn()), snowflake.NewNode(1))
	be := &backend.Backend{
		Mode:     backend.ModeConnected,
		Auth:     postgres.NewAuth(db, 0),
		Users:    store,
		Chats:    store,
		Objects:  objects,
		Presence: presence.NewChannel(redisClient, cfg.Redis),
	}

	// 全部连接成功后再启动 Reaper
	reaper := presence.NewReaper(redisClient, cfg.Redis.DB, cfg.Redis.Heartbeat)
	go func() {
		if err := reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Presence reaper stopped", "error", err)
		}
	}()

	suggester := smartreply.NewNATSSuggester(natsClient.Conn(), cfg.SmartReply.Subject, cfg.SmartReply.Timeout)
	checker := health.NewChecker(backend.ModeConnected, natsClient.Conn(), redisClient, db, objects)
	return be, suggester, checker, cleanup, nil
}

// setupBackend 按配置组装后端，联网模式下任一后端不可达时降级为本地模式
func setupBackend(ctx context.Context, cfg *config.Config) (*backend.Backend, smartreply.Suggester, *health.Checker, []func()) {
	if cfg.Connected() {
		be, suggester, checker, cleanup, err := connect(ctx, cfg)
		if err == nil {
			return be, suggester, checker, cleanup
		}
		slog.Warn("Backend unreachable, falling back to local mode", "error", err)
	}
	be, suggester, checker := degraded(cfg)
	return be, suggester, checker, nil
}

// degraded 本地模式：内存后端与规则建议，契约与联网实现一致
func degraded(cfg *config.Config) (*backend.Backend, smartreply.Suggester, *health.Checker) {
	set := memory.NewSet(cfg.App.PublicBaseURL)
	return set.Backend(backend.ModeLocal), smartreply.Canned{}, health.NewChecker(backend.ModeLocal, nil, nil, nil, nil)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
