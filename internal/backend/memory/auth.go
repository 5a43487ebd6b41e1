package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
)

type account struct {
	user model.AuthUser
	hash []byte
}

// Auth 内存认证服务
type Auth struct {
	mu        sync.Mutex
	accounts  map[string]*account
	cost      int
	listeners *backend.SessionListeners
}

// NewAuth 创建内存认证服务，cost 为 0 时使用 bcrypt.MinCost
func NewAuth(cost int) *Auth {
	if cost == 0 {
		cost = bcrypt.MinCost
	}
	return &Auth{
		accounts:  make(map[string]*account),
		cost:      cost,
		listeners: backend.NewSessionListeners(),
	}
}

// SignIn 登录
func (a *Auth) SignIn(_ context.Context, email, password string) (*model.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.Lock()
	acc, ok := a.accounts[email]
	a.mu.Unlock()
	if !ok {
		return nil, backend.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, backend.ErrInvalidCredentials
	}

	user := acc.user
	a.listeners.Publish(&user)
	return &user, nil
}

// SignUp 注册并登录
func (a *Auth) SignUp(_ context.Context, email, password string) (*model.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < backend.MinPasswordLength {
		return nil, backend.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if _, ok := a.accounts[email]; ok {
		a.mu.Unlock()
		return nil, backend.ErrEmailExists
	}
	acc := &account{
		user: model.AuthUser{UID: uuid.NewString(), Email: email},
		hash: hash,
	}
	a.accounts[email] = acc
	user := acc.user
	a.mu.Unlock()

	a.listeners.Publish(&user)
	return &user, nil
}

// SignOut 登出
func (a *Auth) SignOut(_ context.Context) error {
	a.listeners.Publish(nil)
	return nil
}

// UpdateProfile 更新资料
func (a *Auth) UpdateProfile(_ context.Context, uid, displayName, photoURL string) error {
	a.mu.Lock()
	found := false
	for _, acc := range a.accounts {
		if acc.user.UID == uid {
			acc.user.DisplayName = displayName
			acc.user.PhotoURL = photoURL
			found = true
			break
		}
	}
	a.mu.Unlock()

	if !found {
		return backend.ErrNotFound
	}
	a.listeners.UpdateCurrent(uid, displayName, photoURL)
	return nil
}

// OnSessionChange 订阅会话变化
func (a *Auth) OnSessionChange(handler backend.SessionHandler) backend.Subscription {
	return a.listeners.Subscribe(handler)
}

// Set 一组共享状态的内存实现
type Set struct {
	Docs    *Docs
	Objects *Objects
	Side    *SideChannel
	Auth    *Auth
}

// NewSet 创建内存实现集合
func NewSet(baseURL string) *Set {
	return &Set{
		Docs:    NewDocs(),
		Objects: NewObjects(baseURL),
		Side:    NewSideChannel(),
		Auth:    NewAuth(0),
	}
}

// Backend 以指定模式组装后端
func (s *Set) Backend(mode backend.Mode) *backend.Backend {
	return &backend.Backend{
		Mode:     mode,
		Auth:     s.Auth,
		Users:    s.Docs,
		Chats:    s.Docs,
		Objects:  s.Objects,
		Presence: s.Side,
	}
}
