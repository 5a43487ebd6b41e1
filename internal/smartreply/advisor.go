package smartreply

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/task"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// Scheduler 延迟任务调度，同 ID 任务再次添加时替换
type Scheduler interface {
	AddTask(t *task.Task) error
	RemoveTask(taskID string) error
}

// Listener 建议集合变化回调
type Listener func(suggestions []string)

// Advisor 单个会话视图的智能回复
type Advisor struct {
	view      *conversation.View
	suggester Suggester
	scheduler Scheduler
	selfID    string
	taskID    string
	debounce  time.Duration
	history   int
	logger    *slog.Logger

	mu          sync.Mutex
	suggestions []string
	lastTrigger string
	inflight    bool
	gen         uint64
	closed      bool
	next        int
	listeners   map[int]Listener
	subs        []backend.Subscription
}

// NewAdvisor 创建并挂接到视图，视图关闭前需调用 Close
func NewAdvisor(view *conversation.View, suggester Suggester, scheduler Scheduler, cfg config.SmartReplyConfig) *Advisor {
	a := &Advisor{
		view:        view,
		suggester:   suggester,
		scheduler:   scheduler,
		taskID:      "smart-reply:" + view.ID(),
		debounce:    cfg.Debounce,
		history:     cfg.History,
		logger:      slog.Default(),
		suggestions: []string{},
		listeners:   make(map[int]Listener),
	}
	if id := view.Identity(); id != nil {
		a.selfID = id.ID
	}

	a.subs = append(a.subs,
		view.OnSend(func(*model.Message) { a.Clear() }),
		view.OnChange(a.onSnapshot),
	)
	return a
}

// Suggestions 当前建议
func (a *Advisor) Suggestions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.suggestions...)
}

// OnChange 订阅建议变化，注册时立即回调当前建议
func (a *Advisor) OnChange(listener Listener) backend.Subscription {
	a.mu.Lock()
	id := a.next
	a.next++
	a.listeners[id] = listener
	current := append([]string(nil), a.suggestions...)
	a.mu.Unlock()

	listener(current)

	return backend.NewSubscription(func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	})
}

// onSnapshot 最后一条消息来自对方时触发防抖请求，来自自己时清空建议
func (a *Advisor) onSnapshot(snap conversation.Snapshot) {
	n := len(snap.Messages)
	if snap.Loading || n == 0 {
		return
	}
	last := snap.Messages[n-1]
	if last.SenderID == a.selfID {
		a.Clear()
		return
	}

	a.mu.Lock()
	if a.closed || last.ID == a.lastTrigger {
		a.mu.Unlock()
		return
	}
	a.lastTrigger = last.ID
	a.mu.Unlock()

	a.schedule()
}

func (a *Advisor) schedule() {
	t := task.NewTask(a.taskID, a.view.ID(), a.debounce, func(ctx context.Context, _ string) error {
		a.fire(ctx)
		return nil
	})
	if a.scheduler != nil {
		err := a.scheduler.AddTask(t)
		if err == nil {
			return
		}
		a.logger.Warn("Smart reply debounce unavailable", "chatId", a.view.ID(), "error", err)
	}
	go a.fire(context.Background())
}

// fire 发起一次请求；已有请求在途时丢弃本次触发
func (a *Advisor) fire(ctx context.Context) {
	msgs := a.view.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].SenderID == a.selfID {
		return
	}
	turns := BuildTurns(msgs, a.selfID, a.history)
	if len(turns) == 0 {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.inflight {
		a.mu.Unlock()
		a.logger.Debug("Smart reply request dropped", "chatId", a.view.ID())
		return
	}
	a.inflight = true
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	suggestions, err := a.suggester.Suggest(ctx, turns)
	stale := a.lastFromSelf()

	a.mu.Lock()
	a.inflight = false
	if a.closed || gen != a.gen || stale {
		a.mu.Unlock()
		return
	}
	if err != nil {
		a.suggestions = []string{}
		a.logger.Warn("Smart reply failed", "chatId", a.view.ID(), "error", appErrors.ErrAdvisory.Wrap(err))
	} else {
		a.suggestions = clean(suggestions)
	}
	current, listeners := a.stateLocked()
	a.mu.Unlock()

	notify(listeners, current)
}

// lastFromSelf 视图最新一条消息是否由自己发送
func (a *Advisor) lastFromSelf() bool {
	msgs := a.view.Messages()
	return len(msgs) > 0 && msgs[len(msgs)-1].SenderID == a.selfID
}

// Clear 清空建议，在途请求的结果作废
func (a *Advisor) Clear() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.gen++
	changed := len(a.suggestions) > 0
	a.suggestions = []string{}
	current, listeners := a.stateLocked()
	a.mu.Unlock()

	if a.scheduler != nil {
		_ = a.scheduler.RemoveTask(a.taskID)
	}
	if changed {
		notify(listeners, current)
	}
}

// Select 原样发送第 index 条建议，发送成功后建议被清空
func (a *Advisor) Select(ctx context.Context, index int) (*model.Message, error) {
	a.mu.Lock()
	if index < 0 || index >= len(a.suggestions) {
		a.mu.Unlock()
		return nil, appErrors.ErrInvalidParams
	}
	text := a.suggestions[index]
	a.mu.Unlock()

	return a.view.Send(ctx, text, nil)
}

// Close 解除与视图的挂接并丢弃待执行触发
func (a *Advisor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.gen++
	subs := a.subs
	a.subs = nil
	a.listeners = make(map[int]Listener)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	if a.scheduler != nil {
		_ = a.scheduler.RemoveTask(a.taskID)
	}
}

func (a *Advisor) stateLocked() ([]string, []Listener) {
	listeners := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	return append([]string(nil), a.suggestions...), listeners
}

func notify(listeners []Listener, suggestions []string) {
	for _, l := range listeners {
		l(suggestions)
	}
}
