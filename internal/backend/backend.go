// Package backend 定义客户端消费的后端能力：文档存储、对象存储、认证与低延迟旁路通道。
// 所有实现（PostgreSQL+NATS / Redis / MongoDB GridFS / 内存）都满足相同契约，
// 上层组件不感知当前处于联网模式还是本地模式。
package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"sudooom.im.ripple/internal/model"
)

var (
	ErrNotFound           = errors.New("backend: not found")
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	ErrEmailExists        = errors.New("backend: email already exists")
	ErrWeakPassword       = errors.New("backend: password too weak")
	ErrNotConfigured      = errors.New("backend: capability not configured")
)

// Mode 运行模式
type Mode string

const (
	ModeConnected Mode = "connected"
	ModeLocal     Mode = "local"
)

// Subscription 可取消的订阅，每个 subscribe 必须与一次 Cancel 配对
type Subscription interface {
	Cancel()
}

// SubscriptionFunc 将函数适配为 Subscription，保证只执行一次
type SubscriptionFunc struct {
	once sync.Once
	fn   func()
}

// NewSubscription 创建订阅句柄
func NewSubscription(fn func()) *SubscriptionFunc {
	return &SubscriptionFunc{fn: fn}
}

// Cancel 取消订阅（幂等）
func (s *SubscriptionFunc) Cancel() {
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

// UserHandler 用户记录快照回调，记录不存在时 rec 为 nil
type UserHandler func(rec *model.UserRecord, err error)

// UsersHandler 全量用户快照回调
type UsersHandler func(recs []model.UserRecord, err error)

// MessagesHandler 消息快照回调，每次交付完整有序列表
type MessagesHandler func(msgs []model.Message, err error)

// UserStore 用户持久记录
type UserStore interface {
	GetUser(ctx context.Context, uid string) (*model.UserRecord, error)
	// SetUser 写入完整记录，CreatedAt/LastChanged 由后端分配
	SetUser(ctx context.Context, rec *model.UserRecord) error
	// UpdateStatus 更新在线状态并打上后端时间戳
	UpdateStatus(ctx context.Context, uid string, status model.Status) error
	WatchUser(ctx context.Context, uid string, handler UserHandler) (Subscription, error)
	WatchUsers(ctx context.Context, handler UsersHandler) (Subscription, error)
}

// ChatStore 会话与消息
type ChatStore interface {
	GetChat(ctx context.Context, id string) (*model.ChatRecord, error)
	CreateChat(ctx context.Context, rec *model.ChatRecord) error
	// AddMessage 追加消息，时间戳由后端分配
	AddMessage(ctx context.Context, chatID string, draft *model.MessageDraft) (*model.Message, error)
	// WatchMessages 按 timestamp 升序订阅消息快照
	WatchMessages(ctx context.Context, chatID string, handler MessagesHandler) (Subscription, error)
}

// ProgressFunc 上传进度回调
type ProgressFunc func(transferred, total int64)

// ObjectMeta 对象元数据
type ObjectMeta struct {
	Name        string
	Path        string
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

// Listing 目录列表：子目录前缀（以 / 结尾）与直接子对象路径
type Listing struct {
	Prefixes []string
	Items    []string
}

// ObjectStore 对象存储
type ObjectStore interface {
	// Put 分块写入对象，ctx 取消时中止并返回 ctx.Err()
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string, progress ProgressFunc) (*ObjectMeta, error)
	ResolveURL(ctx context.Context, path string) (string, error)
	List(ctx context.Context, prefix string) (*Listing, error)
	Stat(ctx context.Context, path string) (*ObjectMeta, error)
	Open(ctx context.Context, path string) (io.ReadCloser, *ObjectMeta, error)
}

// ValueHandler 旁路通道值回调，ok=false 表示键不存在
type ValueHandler func(value string, ok bool)

// SideChannel 低延迟旁路通道，用于连接存活检测与断线写入
type SideChannel interface {
	// Connect 建立通道连接（goOnline）
	Connect(ctx context.Context) error
	// Disconnect 主动断开并立即执行已登记的断线写入（goOffline）
	Disconnect(ctx context.Context) error
	WatchConnectivity(handler func(connected bool)) (Subscription, error)
	Set(ctx context.Context, key, value string) error
	// OnDisconnectSet 在通道侧登记断线时写入的值，客户端进程退出时同样生效
	OnDisconnectSet(ctx context.Context, key, value string) error
	Watch(ctx context.Context, key string, handler ValueHandler) (Subscription, error)
}

// SessionHandler 会话变化回调，登出时 user 为 nil
type SessionHandler func(user *model.AuthUser)

// AuthProvider 认证服务
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*model.AuthUser, error)
	SignUp(ctx context.Context, email, password string) (*model.AuthUser, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error
	// OnSessionChange 注册回调，注册时立即以当前会话回调一次
	OnSessionChange(handler SessionHandler) Subscription
}

// Backend 后端能力集合
type Backend struct {
	Mode     Mode
	Auth     AuthProvider
	Users    UserStore
	Chats    ChatStore
	Objects  ObjectStore
	Presence SideChannel
}

// Connected 是否联网模式
func (b *Backend) Connected() bool {
	return b != nil && b.Mode == ModeConnected
}

// StatusKey 旁路通道中用户在线状态的键
func StatusKey(uid string) string {
	return "status/" + uid
}
