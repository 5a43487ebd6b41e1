package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.im.ripple/internal/backend"
)

const (
	stateConnected     = "connected"
	stateDisconnected  = "disconnected"
	stateNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Mode     backend.Mode `json:"mode"`
	NATS     string       `json:"nats"`
	Redis    string       `json:"redis"`
	Database string       `json:"database"`
	Storage  string       `json:"storage"`
}

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器，未配置的依赖不参与判定
type Checker struct {
	mode        backend.Mode
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
	storage     Pinger
}

// NewChecker 创建健康检查器，本地模式下各依赖均可为 nil
func NewChecker(mode backend.Mode, nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool, storage Pinger) *Checker {
	return &Checker{
		mode:        mode,
		nc:          nc,
		redisClient: redisClient,
		db:          db,
		storage:     storage,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Mode:     h.mode,
		NATS:     stateNotConfigured,
		Redis:    stateNotConfigured,
		Database: stateNotConfigured,
		Storage:  stateNotConfigured,
	}

	// 检查 NATS
	if h.nc != nil {
		status.NATS = stateDisconnected
		if h.nc.IsConnected() {
			status.NATS = stateConnected
		}
	}

	// 检查 Redis
	if h.redisClient != nil {
		status.Redis = ping(ctx, func(ctx context.Context) error {
			return h.redisClient.Ping(ctx).Err()
		})
	}

	// 检查 PostgreSQL
	if h.db != nil {
		status.Database = ping(ctx, h.db.Ping)
	}

	// 检查对象存储
	if h.storage != nil {
		status.Storage = ping(ctx, h.storage.Ping)
	}

	return status
}

func ping(ctx context.Context, fn func(ctx context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		return stateDisconnected
	}
	return stateConnected
}

// Healthy 已配置的依赖全部连通
func (s *Status) Healthy() bool {
	for _, v := range []string{s.NATS, s.Redis, s.Database, s.Storage} {
		if v == stateDisconnected {
			return false
		}
	}
	return true
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
