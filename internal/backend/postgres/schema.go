// Package postgres 基于 PostgreSQL 的文档存储与认证，变更通过 NATS 通知订阅方。
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.ripple/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uid          TEXT PRIMARY KEY,
	email        TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	photo_url    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'offline',
	last_changed TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	participants      TEXT[] NOT NULL DEFAULT '{}',
	participant_count INT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id               BIGINT PRIMARY KEY,
	chat_id          TEXT NOT NULL,
	sender_id        TEXT NOT NULL,
	sender_name      TEXT NOT NULL DEFAULT '',
	sender_photo_url TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL DEFAULT '',
	attachment_url   TEXT NOT NULL DEFAULT '',
	attachment_type  TEXT NOT NULL DEFAULT '',
	attachment_name  TEXT NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, timestamp, id);

CREATE TABLE IF NOT EXISTS accounts (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	photo_url     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Connect 连接 PostgreSQL
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// EnsureSchema 创建所需的表和索引
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
