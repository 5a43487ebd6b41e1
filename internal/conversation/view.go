package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// ScrollMode 快照到达后的视口动作
type ScrollMode string

const (
	// ScrollSmooth 消息数增加：平滑滚动到最新
	ScrollSmooth ScrollMode = "smooth"
	// ScrollInstant 消息数未增加：保持位置，立即生效
	ScrollInstant ScrollMode = "instant"
)

// Snapshot 交付给视图监听者的状态
type Snapshot struct {
	ConversationID string          `json:"chatId"`
	Messages       []model.Message `json:"messages"`
	Scroll         ScrollMode      `json:"scroll"`
	Loading        bool            `json:"loading"`
}

// SendHook 消息发送成功后的回调
type SendHook func(msg *model.Message)

// View 单个会话的实时消息视图，生命周期与其使用者绑定
type View struct {
	id       string
	identity *model.Identity
	meta     *model.Conversation
	chats    backend.ChatStore
	local    bool
	clock    func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	messages  []model.Message
	loading   bool
	closed    bool
	sub       backend.Subscription
	next      int
	listeners map[int]func(Snapshot)
	hooks     map[int]SendHook
	mockSeq   int
}

// ID 会话 ID
func (v *View) ID() string {
	return v.id
}

// Identity 绑定的身份
func (v *View) Identity() *model.Identity {
	return v.identity.Clone()
}

// Meta 会话元数据
func (v *View) Meta() *model.Conversation {
	return v.meta
}

// Messages 当前消息列表副本
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Message(nil), v.messages...)
}

// Loading 是否仍在等待首个快照
func (v *View) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Snapshot 当前状态
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked(ScrollInstant)
}

// OnChange 订阅视图变化，注册时立即回调当前状态
func (v *View) OnChange(listener func(Snapshot)) backend.Subscription {
	v.mu.Lock()
	id := v.next
	v.next++
	v.listeners[id] = listener
	snap := v.snapshotLocked(ScrollInstant)
	v.mu.Unlock()

	listener(snap)

	return backend.NewSubscription(func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	})
}

// OnSend 订阅发送成功事件
func (v *View) OnSend(hook SendHook) backend.Subscription {
	v.mu.Lock()
	id := v.next
	v.next++
	v.hooks[id] = hook
	v.mu.Unlock()

	return backend.NewSubscription(func() {
		v.mu.Lock()
		delete(v.hooks, id)
		v.mu.Unlock()
	})
}

// subscribe 订阅消息快照，订阅失败按订阅错误处理
func (v *View) subscribe(ctx context.Context) {
	sub, err := v.chats.WatchMessages(ctx, v.id, v.onSnapshot)
	if err != nil {
		v.onSnapshot(nil, err)
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Cancel()
		return
	}
	v.sub = sub
	v.mu.Unlock()
}

// onSnapshot 整体替换消息列表；消息数增加时平滑滚动，否则立即保持位置
func (v *View) onSnapshot(msgs []model.Message, err error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.loading = false
		snap := v.snapshotLocked(ScrollInstant)
		listeners := v.listenersLocked()
		v.mu.Unlock()

		v.logger.Error("Message subscription error", "chatId", v.id, "error", appErrors.ErrSubscription.Wrap(err))
		notify(listeners, snap)
		return
	}

	now := v.clock()
	next := make([]model.Message, len(msgs))
	for i := range msgs {
		next[i] = *model.NormalizeMessage(&msgs[i], v.id, now)
	}
	scroll := ScrollInstant
	if len(next) > len(v.messages) {
		scroll = ScrollSmooth
	}
	v.messages = next
	v.loading = false
	snap := v.snapshotLocked(scroll)
	listeners := v.listenersLocked()
	v.mu.Unlock()

	notify(listeners, snap)
}

// Send 发送消息。文本与附件均为空、或视图未绑定身份/会话时静默忽略并返回 nil, nil。
func (v *View) Send(ctx context.Context, text string, attachment *model.Attachment) (*model.Message, error) {
	if attachment != nil && attachment.URL == "" {
		attachment = nil
	}
	draft := &model.MessageDraft{
		Text:       strings.TrimSpace(text),
		Attachment: attachment,
	}
	if draft.Empty() || v.identity == nil || v.id == "" {
		return nil, nil
	}

	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, nil
	}

	if !v.isParticipant(v.identity.ID) {
		return nil, appErrors.ErrNotParticipant
	}

	draft.SenderID = v.identity.ID
	draft.SenderName = v.identity.SenderName()
	draft.SenderPhotoURL = v.identity.PhotoURL

	var msg *model.Message
	if v.local {
		msg = v.appendLocal(draft)
	} else {
		sent, err := v.chats.AddMessage(ctx, v.id, draft)
		if err != nil {
			v.logger.Error("Failed to send message", "chatId", v.id, "error", err)
			return nil, appErrors.ErrSendFailed.Wrap(err)
		}
		msg = sent
	}

	v.mu.Lock()
	hooks := make([]SendHook, 0, len(v.hooks))
	for _, h := range v.hooks {
		hooks = append(hooks, h)
	}
	v.mu.Unlock()
	for _, h := range hooks {
		h(msg)
	}
	return msg, nil
}

// appendLocal 本地模式：按本地时钟分配单调递增的占位时间戳并直接追加
func (v *View) appendLocal(draft *model.MessageDraft) *model.Message {
	v.mu.Lock()
	ts := v.clock()
	if n := len(v.messages); n > 0 && !ts.After(v.messages[n-1].Timestamp) {
		ts = v.messages[n-1].Timestamp.Add(time.Millisecond)
	}
	v.mockSeq++
	msg := model.Message{
		ID:             fmt.Sprintf("mock_%d_%d", ts.UnixMilli(), v.mockSeq),
		ConversationID: v.id,
		SenderID:       draft.SenderID,
		SenderName:     draft.SenderName,
		SenderPhotoURL: draft.SenderPhotoURL,
		Text:           draft.Text,
		Timestamp:      ts,
		Attachment:     draft.Attachment,
	}
	v.messages = append(v.messages, msg)
	snap := v.snapshotLocked(ScrollSmooth)
	listeners := v.listenersLocked()
	v.mu.Unlock()

	notify(listeners, snap)
	return &msg
}

// isParticipant 单聊以 ID 组成为准；群聊记录没有成员列表时不限制
func (v *View) isParticipant(uid string) bool {
	if v.local {
		return true
	}
	if v.meta.Kind == model.KindDirect {
		return contains(Members(v.id), uid)
	}
	if len(v.meta.ParticipantIDs) == 0 {
		return true
	}
	return contains(v.meta.ParticipantIDs, uid)
}

// Close 取消订阅，之后的快照与发送全部忽略
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.listeners = make(map[int]func(Snapshot))
	v.hooks = make(map[int]SendHook)
	v.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (v *View) snapshotLocked(scroll ScrollMode) Snapshot {
	return Snapshot{
		ConversationID: v.id,
		Messages:       append([]model.Message(nil), v.messages...),
		Scroll:         scroll,
		Loading:        v.loading,
	}
}

func (v *View) listenersLocked() []func(Snapshot) {
	listeners := make([]func(Snapshot), 0, len(v.listeners))
	for _, l := range v.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}
