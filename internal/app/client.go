// Package app 已登录客户端的组合根：持有会话管理器，按会话打开 Room，身份替换时拆除全部 Room。
package app

import (
	"context"
	"log/slog"
	"sync"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/composer"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/directory"
	"sudooom.im.ripple/internal/gallery"
	"sudooom.im.ripple/internal/localstore"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/session"
	"sudooom.im.ripple/internal/smartreply"
	"sudooom.im.ripple/internal/task"
	"sudooom.im.ripple/internal/upload"
	"sudooom.im.ripple/internal/workerpool"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// Room 单个会话的视图、输入面与智能回复
type Room struct {
	View     *conversation.View
	Composer *composer.Composer
	Advisor  *smartreply.Advisor
	Recorder *composer.BufferRecorder

	once sync.Once
	done chan struct{}
}

// ID 会话 ID
func (r *Room) ID() string {
	return r.View.ID()
}

// Done Room 关闭后关闭
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// close 先拆除依附于视图的组件，再关闭视图
func (r *Room) close() {
	r.once.Do(func() {
		r.Advisor.Close()
		r.Composer.Close()
		r.View.Close()
		close(r.done)
	})
}

// Options 客户端依赖
type Options struct {
	Config    *config.Config
	Backend   *backend.Backend
	Local     *localstore.Store
	Suggester smartreply.Suggester
	Pool      *workerpool.Pool
}

// Client 客户端核心
type Client struct {
	cfg           *config.Config
	be            *backend.Backend
	session       *session.Manager
	conversations *conversation.Service
	pipeline      *upload.Pipeline
	suggester     smartreply.Suggester
	scheduler     *task.Scheduler
	gallery       *gallery.Aggregator
	directory     *directory.Directory
	logger        *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	rooms      map[string]*Room
	identityID string
	sessionSub backend.Subscription
	closed     bool
}

// New 创建客户端
func New(opts Options) *Client {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	suggester := opts.Suggester
	if suggester == nil {
		suggester = smartreply.Canned{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:           cfg,
		be:            opts.Backend,
		session:       session.NewManager(opts.Backend, opts.Local),
		conversations: conversation.NewService(opts.Backend),
		pipeline:      upload.NewPipeline(opts.Backend.Objects, cfg.Upload),
		suggester:     suggester,
		scheduler:     task.NewScheduler(cfg.SmartReply.Tick, 2),
		gallery:       gallery.NewAggregator(opts.Backend.Objects, opts.Pool, cfg.Gallery.Folders),
		directory:     directory.New(opts.Backend.Users, cfg.App.AdminEmail),
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
		rooms:         make(map[string]*Room),
	}
}

// Start 启动调度器并恢复会话，ctx 结束时客户端关闭
func (c *Client) Start(ctx context.Context) error {
	if err := c.scheduler.Start(); err != nil {
		return err
	}
	if err := c.session.Start(c.ctx); err != nil {
		return err
	}

	sub := c.session.Subscribe(c.onIdentity)
	c.mu.Lock()
	c.sessionSub = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.ctx.Done():
		}
	}()

	c.logger.Info("Client started", "mode", c.be.Mode)
	return nil
}

// Session 会话管理器
func (c *Client) Session() *session.Manager {
	return c.session
}

// Backend 后端能力
func (c *Client) Backend() *backend.Backend {
	return c.be
}

// Config 配置
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Gallery 读取媒体库，需要登录
func (c *Client) Gallery(ctx context.Context) (*gallery.Listing, error) {
	if c.session.Current() == nil {
		return nil, appErrors.ErrNotAuthenticated
	}
	return c.gallery.ListAll(ctx)
}

// Directory 管理员用户目录
func (c *Client) Directory() *directory.Directory {
	return c.directory
}

// Room 打开或复用会话 Room。同一时间只有一个活动会话，切换会话时关闭之前的 Room
func (c *Client) Room(chatID string) (*Room, error) {
	identity := c.session.Current()
	if identity == nil {
		return nil, appErrors.ErrNotAuthenticated
	}

	c.mu.Lock()
	if r, ok := c.rooms[chatID]; ok {
		c.mu.Unlock()
		return r, nil
	}
	ctx := c.ctx
	c.mu.Unlock()

	if ctx.Err() != nil {
		return nil, appErrors.ErrServerError.Wrap(ctx.Err())
	}

	view, err := c.conversations.Open(ctx, chatID, identity)
	if err != nil {
		return nil, err
	}
	recorder := composer.NewBufferRecorder()
	r := &Room{
		View:     view,
		Composer: composer.New(view, c.pipeline, recorder),
		Advisor:  smartreply.NewAdvisor(view, c.suggester, c.scheduler, c.cfg.SmartReply),
		Recorder: recorder,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if existing, ok := c.rooms[chatID]; ok {
		c.mu.Unlock()
		r.close()
		return existing, nil
	}
	if c.identityID != identity.ID {
		c.mu.Unlock()
		r.close()
		return nil, appErrors.ErrNotAuthenticated
	}
	previous := c.rooms
	c.rooms = map[string]*Room{chatID: r}
	c.mu.Unlock()

	for id, old := range previous {
		old.close()
		c.logger.Debug("Room closed on conversation change", "chatId", id)
	}
	c.logger.Debug("Room opened", "chatId", chatID, "uid", identity.ID)
	return r, nil
}

// CloseRoom 关闭会话 Room
func (c *Client) CloseRoom(chatID string) {
	c.mu.Lock()
	r, ok := c.rooms[chatID]
	delete(c.rooms, chatID)
	c.mu.Unlock()

	if ok {
		r.close()
	}
}

// RoomCount 打开的 Room 数量
func (c *Client) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// CreateGroup 创建群聊
func (c *Client) CreateGroup(ctx context.Context, name string, participantIDs []string) (*model.Conversation, error) {
	return c.conversations.CreateGroup(ctx, c.session.Current(), name, participantIDs)
}

// onIdentity 身份被替换（包括登出）时拆除所有 Room
func (c *Client) onIdentity(identity *model.Identity) {
	uid := ""
	if identity != nil {
		uid = identity.ID
	}

	c.mu.Lock()
	if uid == c.identityID {
		c.mu.Unlock()
		return
	}
	c.identityID = uid
	rooms := c.rooms
	c.rooms = make(map[string]*Room)
	c.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
	if len(rooms) > 0 {
		c.logger.Info("Rooms closed on identity change", "count", len(rooms))
	}
}

// Close 拆除全部 Room 并关闭会话
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rooms := c.rooms
	c.rooms = make(map[string]*Room)
	sub := c.sessionSub
	c.sessionSub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	for _, r := range rooms {
		r.close()
	}
	c.session.Close()
	c.scheduler.Stop()
	c.cancel()
	c.logger.Info("Client closed")
}
