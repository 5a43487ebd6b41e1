// Package session 管理当前登录身份，并把旁路通道中的在线状态单向同步到持久用户记录。
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/localstore"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// Listener 身份变化回调，登出时为 nil
type Listener func(identity *model.Identity)

// binding 一次登录期间持有的订阅，身份替换时整体拆除
type binding struct {
	uid    string
	auth   model.AuthUser
	cancel context.CancelFunc
	queue  chan model.Status
	done   chan struct{}

	mu     sync.Mutex
	subs   []backend.Subscription
	closed bool
}

// Manager 会话与在线状态管理
type Manager struct {
	be     *backend.Backend
	local  *localstore.Store
	logger *slog.Logger

	mu         sync.Mutex
	identity   *model.Identity
	bound      *binding
	next       int
	listeners  map[int]Listener
	sessionSub backend.Subscription
}

// NewManager 创建会话管理器，本地模式下 local 不能为空
func NewManager(be *backend.Backend, local *localstore.Store) *Manager {
	return &Manager{
		be:        be,
		local:     local,
		logger:    slog.Default(),
		listeners: make(map[int]Listener),
	}
}

// Start 恢复会话：联网模式订阅认证会话，本地模式读取本地身份
func (m *Manager) Start(ctx context.Context) error {
	if !m.be.Connected() {
		var id model.Identity
		ok, err := m.local.Get(localstore.MockUserKey, &id)
		if err != nil {
			m.logger.Warn("Failed to restore local identity", "error", err)
			return nil
		}
		if ok {
			id.Status = model.StatusOnline
			m.replace(&id)
		}
		return nil
	}

	sub := m.be.Auth.OnSessionChange(func(user *model.AuthUser) {
		m.onSession(ctx, user)
	})
	m.mu.Lock()
	m.sessionSub = sub
	m.mu.Unlock()
	return nil
}

// Current 当前身份，未登录时为 nil
func (m *Manager) Current() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.Clone()
}

// Subscribe 订阅身份变化，注册时立即回调当前身份
func (m *Manager) Subscribe(listener Listener) backend.Subscription {
	m.mu.Lock()
	id := m.next
	m.next++
	m.listeners[id] = listener
	current := m.identity.Clone()
	m.mu.Unlock()

	listener(current)

	return backend.NewSubscription(func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	})
}

// Login 登录，失败时身份保持不变
func (m *Manager) Login(ctx context.Context, email, password string) (*model.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, appErrors.ErrInvalidParams
	}
	if !m.be.Connected() {
		return m.mockLogin(email, "")
	}

	if _, err := m.be.Auth.SignIn(ctx, email, password); err != nil {
		return nil, authError(err)
	}
	return m.Current(), nil
}

// Signup 注册并登录，写入资料与持久用户记录
func (m *Manager) Signup(ctx context.Context, name, email, password string) (*model.Identity, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return nil, appErrors.ErrInvalidParams
	}
	if !m.be.Connected() {
		return m.mockLogin(email, name)
	}

	user, err := m.be.Auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, authError(err)
	}

	photo := model.PlaceholderAvatar(firstNonEmpty(name, email))
	if err := m.be.Auth.UpdateProfile(ctx, user.UID, name, photo); err != nil {
		m.logger.Warn("Failed to update profile", "uid", user.UID, "error", err)
	}
	rec := &model.UserRecord{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: name,
		PhotoURL:    photo,
		Status:      model.StatusOnline,
	}
	if err := m.be.Users.SetUser(ctx, rec); err != nil {
		m.logger.Error("Failed to create user record", "uid", user.UID, "error", err)
	}

	m.mu.Lock()
	if m.identity != nil && m.identity.ID == user.UID {
		if m.identity.DisplayName == "" {
			m.identity.DisplayName = name
		}
		if m.identity.PhotoURL == "" {
			m.identity.PhotoURL = photo
		}
		if m.bound != nil {
			m.bound.auth.DisplayName = name
			m.bound.auth.PhotoURL = photo
		}
	}
	current := m.identity.Clone()
	m.mu.Unlock()
	m.publish(current)

	return current, nil
}

// Logout 先尽力写入离线状态再结束会话，写入失败不影响登出
func (m *Manager) Logout(ctx context.Context) error {
	current := m.Current()
	if !m.be.Connected() {
		if err := m.local.Delete(localstore.MockUserKey); err != nil {
			m.logger.Warn("Failed to clear local identity", "error", err)
		}
		m.replace(nil)
		return nil
	}

	// 先停止在线状态同步，避免排队中的 online 覆盖离线写入
	m.mu.Lock()
	old := m.bound
	m.bound = nil
	m.mu.Unlock()
	old.teardown()

	if current != nil {
		if err := m.be.Users.UpdateStatus(ctx, current.ID, model.StatusOffline); err != nil {
			m.logger.Warn("Failed to write offline status", "uid", current.ID, "error", err)
		}
		if err := m.be.Presence.Disconnect(ctx); err != nil {
			m.logger.Warn("Failed to disconnect side channel", "uid", current.ID, "error", err)
		}
	}
	if err := m.be.Auth.SignOut(ctx); err != nil {
		return appErrors.ErrServerError.Wrap(err)
	}
	return nil
}

// Close 拆除全部订阅
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.sessionSub
	m.sessionSub = nil
	old := m.bound
	m.bound = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	old.teardown()
}

func (m *Manager) mockLogin(email, name string) (*model.Identity, error) {
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	id := &model.Identity{
		ID:          "mock_" + email,
		Email:       email,
		DisplayName: name,
		PhotoURL:    model.PlaceholderAvatar(name),
		Status:      model.StatusOnline,
	}
	if err := m.local.Put(localstore.MockUserKey, id); err != nil {
		m.logger.Warn("Failed to persist local identity", "error", err)
	}
	m.replace(id)
	return id.Clone(), nil
}

// onSession 认证会话变化：拆除旧身份的订阅并绑定新身份
func (m *Manager) onSession(ctx context.Context, user *model.AuthUser) {
	m.mu.Lock()
	if user != nil && m.bound != nil && m.bound.uid == user.UID {
		m.mu.Unlock()
		return
	}
	old := m.bound
	m.bound = nil
	m.mu.Unlock()

	old.teardown()

	if user == nil {
		m.replace(nil)
		return
	}
	m.bind(ctx, user)
}

// bind 身份建立后：订阅持久记录、登记在线与断线写入、启动在线状态同步
func (m *Manager) bind(ctx context.Context, user *model.AuthUser) {
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &binding{
		uid:    user.UID,
		auth:   *user,
		cancel: cancel,
		queue:  make(chan model.Status, 16),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.bound = b
	m.mu.Unlock()

	m.replace(&model.Identity{
		ID:          user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
		Status:      model.StatusOffline,
	})

	go m.reconcileLoop(bctx, b)

	if sub, err := m.be.Users.WatchUser(bctx, user.UID, func(rec *model.UserRecord, err error) {
		m.onDurable(b, rec, err)
	}); err != nil {
		m.logger.Error("Failed to watch user record", "uid", user.UID, "error", err)
	} else {
		b.add(sub)
	}

	key := backend.StatusKey(user.UID)
	if sub, err := m.be.Presence.WatchConnectivity(func(connected bool) {
		m.onConnectivity(bctx, b, key, connected)
	}); err != nil {
		m.logger.Error("Failed to watch connectivity", "uid", user.UID, "error", err)
	} else {
		b.add(sub)
	}

	if sub, err := m.be.Presence.Watch(bctx, key, func(value string, ok bool) {
		if !ok {
			return
		}
		status, valid := model.ParseStatus(value)
		if !valid {
			return
		}
		select {
		case b.queue <- status:
		case <-bctx.Done():
		}
	}); err != nil {
		m.logger.Error("Failed to watch presence", "uid", user.UID, "error", err)
	} else {
		b.add(sub)
	}

	if err := m.be.Presence.Connect(bctx); err != nil {
		m.logger.Warn("Failed to connect side channel", "uid", user.UID, "error", err)
	}
}

// onConnectivity 连接建立时写入在线，并在通道侧登记断线写入离线
func (m *Manager) onConnectivity(ctx context.Context, b *binding, key string, connected bool) {
	if !connected || !m.isBound(b) {
		return
	}
	if err := m.be.Presence.Set(ctx, key, string(model.StatusOnline)); err != nil {
		m.logger.Warn("Failed to write online presence", "uid", b.uid, "error", err)
		return
	}
	if err := m.be.Presence.OnDisconnectSet(ctx, key, string(model.StatusOffline)); err != nil {
		m.logger.Warn("Failed to register on-disconnect presence", "uid", b.uid, "error", err)
	}
}

// onDurable 合并持久记录：记录中的非空字段优先，缺失时回落到认证信息
func (m *Manager) onDurable(b *binding, rec *model.UserRecord, err error) {
	if err != nil {
		m.logger.Warn("User record subscription error", "uid", b.uid, "error", err)
		return
	}

	m.mu.Lock()
	if m.bound != b || m.identity == nil {
		m.mu.Unlock()
		return
	}
	merged := Merge(&b.auth, rec)
	m.identity = merged
	current := merged.Clone()
	m.mu.Unlock()

	m.publish(current)
}

// Merge 由认证信息与持久记录合成身份
func Merge(auth *model.AuthUser, rec *model.UserRecord) *model.Identity {
	id := &model.Identity{
		ID:          auth.UID,
		Email:       auth.Email,
		DisplayName: auth.DisplayName,
		PhotoURL:    auth.PhotoURL,
		Status:      model.StatusOffline,
	}
	if rec == nil {
		return id
	}
	id.Email = firstNonEmpty(rec.Email, auth.Email)
	id.DisplayName = firstNonEmpty(rec.DisplayName, auth.DisplayName)
	id.PhotoURL = firstNonEmpty(rec.PhotoURL, auth.PhotoURL)
	if status, ok := model.ParseStatus(string(rec.Status)); ok {
		id.Status = status
	}
	return id
}

// reconcileLoop 按到达顺序把旁路通道状态写入持久记录
func (m *Manager) reconcileLoop(ctx context.Context, b *binding) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-b.queue:
			if err := m.ReconcilePresence(ctx, b.uid, status); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to reconcile presence", "uid", b.uid, "status", status, "error", err)
			}
		}
	}
}

// ReconcilePresence 旁路通道 -> 持久记录的单向同步步骤，时间戳由后端分配。
// 两个存储之间存在传播延迟，期间允许短暂不一致。
func (m *Manager) ReconcilePresence(ctx context.Context, uid string, status model.Status) error {
	return m.be.Users.UpdateStatus(ctx, uid, status)
}

func (m *Manager) isBound(b *binding) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound == b
}

func (m *Manager) replace(id *model.Identity) {
	m.mu.Lock()
	m.identity = id.Clone()
	current := id.Clone()
	m.mu.Unlock()

	m.publish(current)
}

func (m *Manager) publish(id *model.Identity) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(id.Clone())
	}
}

// add 登记订阅，已拆除时立即取消
func (b *binding) add(sub backend.Subscription) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Cancel()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

func (b *binding) teardown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	b.cancel()
	<-b.done
}

// authError 把认证后端错误转换为带码错误
func authError(err error) error {
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return appErrors.ErrInvalidCredentials
	case errors.Is(err, backend.ErrEmailExists):
		return appErrors.ErrEmailExists
	case errors.Is(err, backend.ErrWeakPassword):
		return appErrors.ErrWeakSecret
	}
	return appErrors.ErrServerError.Wrap(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
