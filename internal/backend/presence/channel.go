package presence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/config"
)

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Channel Redis 旁路通道，一个实例对应一个逻辑连接
type Channel struct {
	rdb       *redis.Client
	connID    string
	ttl       time.Duration
	heartbeat time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	next      int
	watchers  map[int]func(bool)
	stop      chan struct{}
	done      chan struct{}
}

// NewChannel 创建旁路通道
func NewChannel(rdb *redis.Client, cfg config.RedisConfig) *Channel {
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 || heartbeat >= ttl {
		heartbeat = ttl / 3
	}
	return &Channel{
		rdb:       rdb,
		connID:    uuid.NewString(),
		ttl:       ttl,
		heartbeat: heartbeat,
		logger:    slog.Default(),
		watchers:  make(map[int]func(bool)),
	}
}

// ConnID 连接 ID
func (c *Channel) ConnID() string {
	return c.connID
}

// Connect 创建租约并启动心跳
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	if err := c.rdb.Set(ctx, BuildLeaseKey(c.connID), time.Now().Unix(), c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to create side channel lease", "connId", c.connID, "error", err)
	} else {
		c.setConnected(true)
	}

	go c.heartbeatLoop(stop, done)
	return nil
}

// Disconnect 停止心跳并立即执行断线写入
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	_, err := ApplyPending(ctx, c.rdb, c.connID)
	if delErr := c.rdb.Del(ctx, BuildLeaseKey(c.connID)).Err(); delErr != nil && err == nil {
		err = delErr
	}
	c.setConnected(false)
	return err
}

// heartbeatLoop 心跳：PING 探测连通性并续期租约。
// 租约已丢失时说明断线写入可能已被执行，先上报断开再重建租约上报连接，
// 让上层重新登记在线状态。
func (c *Channel) heartbeatLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.beat()
		}
	}
}

func (c *Channel) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), c.heartbeat)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("Side channel heartbeat failed", "connId", c.connID, "error", err)
		c.setConnected(false)
		return
	}

	renewed, err := c.rdb.Expire(ctx, BuildLeaseKey(c.connID), c.ttl).Result()
	if err != nil {
		c.setConnected(false)
		return
	}
	if !renewed {
		c.setConnected(false)
		if err := c.rdb.Set(ctx, BuildLeaseKey(c.connID), time.Now().Unix(), c.ttl).Err(); err != nil {
			return
		}
	}
	c.setConnected(true)
}

// WatchConnectivity 订阅连接状态，注册时立即回调当前状态
func (c *Channel) WatchConnectivity(handler func(connected bool)) (backend.Subscription, error) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.watchers[id] = handler
	connected := c.connected
	c.mu.Unlock()

	handler(connected)

	return backend.NewSubscription(func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}), nil
}

func (c *Channel) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	handlers := make([]func(bool), 0, len(c.watchers))
	for _, h := range c.watchers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	c.logger.Info("Side channel connectivity changed", "connId", c.connID, "connected", connected)
	for _, h := range handlers {
		h(connected)
	}
}

// Set 写入值并发布变更
func (c *Channel) Set(ctx context.Context, key, value string) error {
	return setValue(ctx, c.rdb, key, value)
}

// OnDisconnectSet 在 Redis 侧登记断线写入
func (c *Channel) OnDisconnectSet(ctx context.Context, key, value string) error {
	return c.rdb.HSet(ctx, BuildPendingKey(c.connID), key, value).Err()
}

// Watch 先订阅频道再读取当前值，保证不漏掉两者之间的变更
func (c *Channel) Watch(ctx context.Context, key string, handler backend.ValueHandler) (backend.Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, BuildChannel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	value, err := c.rdb.Get(ctx, BuildValueKey(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		handler("", false)
	case err != nil:
		pubsub.Close()
		return nil, err
	default:
		handler(value, true)
	}

	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			handler(msg.Payload, true)
		}
	}()

	return backend.NewSubscription(func() {
		if err := pubsub.Close(); err != nil {
			c.logger.Warn("Failed to close side channel watch", "key", key, "error", err)
		}
	}), nil
}

func setValue(ctx context.Context, rdb *redis.Client, key, value string) error {
	pipe := rdb.TxPipeline()
	pipe.Set(ctx, BuildValueKey(key), value, 0)
	pipe.Publish(ctx, BuildChannel(key), value)
	_, err := pipe.Exec(ctx)
	return err
}

// ApplyPending 执行某连接登记的断线写入并删除登记，返回执行的写入数。
// 通过 RENAME 抢占登记，多个执行方并发时只有一个生效。
func ApplyPending(ctx context.Context, rdb *redis.Client, connID string) (int, error) {
	pending := BuildPendingKey(connID)
	applying := pending + applyingKeySuffix

	if err := rdb.Rename(ctx, pending, applying).Err(); err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, err
	}
	defer rdb.Del(context.WithoutCancel(ctx), applying)

	writes, err := rdb.HGetAll(ctx, applying).Result()
	if err != nil {
		return 0, err
	}
	applied := 0
	for key, value := range writes {
		if err := setValue(ctx, rdb, key, value); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
