package backend

import (
	"sync"

	"sudooom.im.ripple/internal/model"
)

// MinPasswordLength 最短密码长度
const MinPasswordLength = 6

// SessionListeners 进程内会话监听器集合，认证实现共用
type SessionListeners struct {
	mu       sync.Mutex
	current  *model.AuthUser
	next     int
	handlers map[int]SessionHandler
}

// NewSessionListeners 创建监听器集合
func NewSessionListeners() *SessionListeners {
	return &SessionListeners{handlers: make(map[int]SessionHandler)}
}

// Current 当前会话
func (l *SessionListeners) Current() *model.AuthUser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyAuthUser(l.current)
}

// Subscribe 注册回调并立即以当前会话回调一次
func (l *SessionListeners) Subscribe(handler SessionHandler) Subscription {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = handler
	current := copyAuthUser(l.current)
	l.mu.Unlock()

	handler(current)

	return NewSubscription(func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	})
}

// Publish 替换当前会话并同步通知所有监听器
func (l *SessionListeners) Publish(user *model.AuthUser) {
	l.mu.Lock()
	l.current = copyAuthUser(user)
	handlers := make([]SessionHandler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(copyAuthUser(user))
	}
}

// UpdateCurrent 当前会话为 uid 时更新其资料
func (l *SessionListeners) UpdateCurrent(uid, displayName, photoURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.UID == uid {
		l.current.DisplayName = displayName
		l.current.PhotoURL = photoURL
	}
}

func copyAuthUser(u *model.AuthUser) *model.AuthUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
