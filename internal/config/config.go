package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Upload     UploadConfig     `mapstructure:"upload"`
	SmartReply SmartReplyConfig `mapstructure:"smart_reply"`
	Gallery    GalleryConfig    `mapstructure:"gallery"`
	Local      LocalConfig      `mapstructure:"local"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	Mode          string `mapstructure:"mode"`
	LogLevel      string `mapstructure:"log_level"`
	ListenAddr    string `mapstructure:"listen_addr"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	AdminEmail    string `mapstructure:"admin_email"`

	// AllowedOrigins 本地 API 允许的跨域来源，* 表示任意
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	// LeaseTTL 连接租约过期时间，过期后执行断线写入
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// Heartbeat 租约续期与连通性探测间隔
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Addr Redis 地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN PostgreSQL 连接串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Bucket   string        `mapstructure:"bucket"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

type UploadConfig struct {
	MaxWidth  int `mapstructure:"max_width"`
	Quality   int `mapstructure:"quality"`
	ChunkSize int `mapstructure:"chunk_size"`
}

type SmartReplyConfig struct {
	Subject  string        `mapstructure:"subject"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Debounce time.Duration `mapstructure:"debounce"`
	History  int           `mapstructure:"history"`
	Tick     time.Duration `mapstructure:"tick"`
}

type GalleryConfig struct {
	Workers int      `mapstructure:"workers"`
	Folders []string `mapstructure:"folders"`
}

type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// Defaults 本地模式下可直接运行的完整配置
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:           "ripple",
			Mode:           "local",
			LogLevel:       "info",
			ListenAddr:     ":8080",
			PublicBaseURL:  "http://localhost:8080",
			AllowedOrigins: []string{"*"},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			PoolSize:  20,
			LeaseTTL:  30 * time.Second,
			Heartbeat: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "ripple",
			User:            "ripple",
			Password:        "ripple",
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "ripple",
			Bucket:   "objects",
			Timeout:  10 * time.Second,
		},
		JWT: JWTConfig{
			SecretKey:    "ripple-local-secret",
			AccessExpire: 24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxWidth:  1280,
			Quality:   90,
			ChunkSize: 255 * 1024,
		},
		SmartReply: SmartReplyConfig{
			Subject:  "ripple.ai.smart-replies",
			Timeout:  5 * time.Second,
			Debounce: 500 * time.Millisecond,
			History:  5,
			Tick:     50 * time.Millisecond,
		},
		Gallery: GalleryConfig{
			Workers: 8,
			Folders: []string{"chat-attachments/", "stories/"},
		},
		Local: LocalConfig{
			Dir: ".ripple",
		},
	}
}

// Load 从指定路径加载配置，path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Mode = GetEnv("RIPPLE_MODE", c.App.Mode)
	c.App.LogLevel = GetEnv("RIPPLE_LOG_LEVEL", c.App.LogLevel)
	c.App.ListenAddr = GetEnv("RIPPLE_LISTEN_ADDR", c.App.ListenAddr)
	c.App.PublicBaseURL = GetEnv("RIPPLE_PUBLIC_BASE_URL", c.App.PublicBaseURL)
	c.App.AdminEmail = GetEnv("RIPPLE_ADMIN_EMAIL", c.App.AdminEmail)

	// NATS
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	// Redis
	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.LeaseTTL = GetEnvDuration("REDIS_LEASE_TTL", c.Redis.LeaseTTL)

	// Database
	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)

	// Mongo
	c.Mongo.URI = GetEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = GetEnv("MONGO_DB", c.Mongo.Database)

	// JWT
	c.JWT.SecretKey = GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	// Local
	c.Local.Dir = GetEnv("RIPPLE_LOCAL_DIR", c.Local.Dir)
}

// Connected 是否联网模式
func (c *Config) Connected() bool {
	return c.App.Mode == "connected"
}
