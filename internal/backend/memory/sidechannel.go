package memory

import (
	"context"
	"sync"

	"sudooom.im.ripple/internal/backend"
)

type valueWatch struct {
	key     string
	handler backend.ValueHandler
}

// SideChannel 内存旁路通道，SimulateDisconnect 模拟非正常断线
type SideChannel struct {
	mu        sync.Mutex
	connected bool
	values    map[string]string
	pending   map[string]string

	nextWatch    int
	watches      map[int]*valueWatch
	connWatchers map[int]func(bool)
}

// NewSideChannel 创建内存旁路通道（初始未连接）
func NewSideChannel() *SideChannel {
	return &SideChannel{
		values:       make(map[string]string),
		pending:      make(map[string]string),
		watches:      make(map[int]*valueWatch),
		connWatchers: make(map[int]func(bool)),
	}
}

// Connect 建立连接
func (s *SideChannel) Connect(_ context.Context) error {
	s.setConnected(true)
	return nil
}

// Disconnect 主动断开，先执行断线写入
func (s *SideChannel) Disconnect(_ context.Context) error {
	s.applyPending()
	s.setConnected(false)
	return nil
}

// SimulateDisconnect 模拟连接丢失：通道侧执行断线写入，客户端收到断开事件
func (s *SideChannel) SimulateDisconnect() {
	s.applyPending()
	s.setConnected(false)
}

// SimulateReconnect 模拟连接恢复
func (s *SideChannel) SimulateReconnect() {
	s.setConnected(true)
}

// WatchConnectivity 订阅连接状态，注册时立即回调当前状态
func (s *SideChannel) WatchConnectivity(handler func(connected bool)) (backend.Subscription, error) {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.connWatchers[id] = handler
	connected := s.connected
	s.mu.Unlock()

	handler(connected)

	return backend.NewSubscription(func() {
		s.mu.Lock()
		delete(s.connWatchers, id)
		s.mu.Unlock()
	}), nil
}

// Set 写入值
func (s *SideChannel) Set(_ context.Context, key, value string) error {
	s.set(key, value)
	return nil
}

// OnDisconnectSet 登记断线写入
func (s *SideChannel) OnDisconnectSet(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = value
	return nil
}

// Watch 订阅键值，注册时立即回调当前值
func (s *SideChannel) Watch(_ context.Context, key string, handler backend.ValueHandler) (backend.Subscription, error) {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watches[id] = &valueWatch{key: key, handler: handler}
	v, ok := s.values[key]
	s.mu.Unlock()

	handler(v, ok)

	return backend.NewSubscription(func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
	}), nil
}

// Value 读取当前值（测试用）
func (s *SideChannel) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Pending 读取已登记的断线写入（测试用）
func (s *SideChannel) Pending(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pending[key]
	return v, ok
}

// WatchCount 活跃订阅数
func (s *SideChannel) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches) + len(s.connWatchers)
}

func (s *SideChannel) applyPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]string)
	s.mu.Unlock()

	for k, v := range pending {
		s.set(k, v)
	}
}

func (s *SideChannel) set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	handlers := make([]backend.ValueHandler, 0)
	for _, w := range s.watches {
		if w.key == key {
			handlers = append(handlers, w.handler)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(value, true)
	}
}

func (s *SideChannel) setConnected(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	handlers := make([]func(bool), 0, len(s.connWatchers))
	for _, h := range s.connWatchers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}
