package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reaper 监听租约过期事件，替已失联的连接执行断线写入。
// 任意节点都可以运行，也可以多个同时运行。
type Reaper struct {
	rdb      *redis.Client
	db       int
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper 创建 Reaper，interval 为兜底扫描间隔
func NewReaper(rdb *redis.Client, db int, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		rdb:      rdb,
		db:       db,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run 阻塞运行直到 ctx 取消
func (r *Reaper) Run(ctx context.Context) error {
	// 需要过期事件通知；托管 Redis 可能禁止 CONFIG，此时依赖兜底扫描
	if err := r.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		r.logger.Warn("Failed to enable keyspace events, falling back to sweep", "error", err)
	}

	pubsub := r.rdb.Subscribe(ctx, fmt.Sprintf("__keyevent@%d__:expired", r.db))
	defer pubsub.Close()

	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Warn("Initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ch := pubsub.Channel()
	r.logger.Info("Presence reaper started", "db", r.db, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Presence reaper stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			connID, ok := ParseLeaseKey(msg.Payload)
			if !ok {
				continue
			}
			r.reap(ctx, connID)
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("Sweep failed", "error", err)
			}
		}
	}
}

// Sweep 扫描全部登记，执行租约已不存在的连接的断线写入
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	reaped := 0
	iter := r.rdb.Scan(ctx, 0, pendingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, applyingKeySuffix) {
			continue
		}
		connID := strings.TrimPrefix(key, pendingKeyPrefix)
		alive, err := r.rdb.Exists(ctx, BuildLeaseKey(connID)).Result()
		if err != nil {
			return reaped, err
		}
		if alive > 0 {
			continue
		}
		if r.reap(ctx, connID) {
			reaped++
		}
	}
	return reaped, iter.Err()
}

func (r *Reaper) reap(ctx context.Context, connID string) bool {
	applied, err := ApplyPending(ctx, r.rdb, connID)
	if err != nil {
		r.logger.Error("Failed to apply on-disconnect writes", "connId", connID, "error", err)
		return false
	}
	if applied > 0 {
		r.logger.Info("Applied on-disconnect writes", "connId", connID, "count", applied)
	}
	return applied > 0
}
