package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sudooom.im.ripple/internal/backend/realtime"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/smartreply"
)

// 智能回复应答服务：在 NATS 上以规则建议响应请求，供没有模型服务的环境使用
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Warn("Config file unavailable, using defaults", "error", err)
		if cfg, err = config.Load(""); err != nil {
			logger.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
	}

	natsClient, err := realtime.NewClient(cfg.NATS)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	sub, err := smartreply.Serve(natsClient.Conn(), cfg.SmartReply.Subject, smartreply.Canned{})
	if err != nil {
		logger.Error("Failed to subscribe", "subject", cfg.SmartReply.Subject, "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger.Info("Suggester started", "subject", cfg.SmartReply.Subject)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Suggester stopped")
}
