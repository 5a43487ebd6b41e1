// Package memory 提供后端能力的进程内实现，契约与联网实现一致，
// 用于本地模式和测试替身。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/pkg/snowflake"
)

type userWatch struct {
	uid     string
	handler backend.UserHandler
}

type messagesWatch struct {
	chatID  string
	handler backend.MessagesHandler
}

// Docs 内存文档存储，实现 UserStore 与 ChatStore
// 回调在写入方协程中同步触发，且不持有锁
type Docs struct {
	mu       sync.Mutex
	users    map[string]model.UserRecord
	chats    map[string]model.ChatRecord
	messages map[string][]model.Message

	nextWatch     int
	userWatches   map[int]*userWatch
	usersWatches  map[int]backend.UsersHandler
	messageWatchs map[int]*messagesWatch

	ids   *snowflake.Node
	clock func() time.Time

	// FailWrites 非空时所有写操作返回该错误（测试用）
	FailWrites error
	// Writes 成功写入次数
	Writes int
}

// NewDocs 创建内存文档存储
func NewDocs() *Docs {
	return &Docs{
		users:         make(map[string]model.UserRecord),
		chats:         make(map[string]model.ChatRecord),
		messages:      make(map[string][]model.Message),
		userWatches:   make(map[int]*userWatch),
		usersWatches:  make(map[int]backend.UsersHandler),
		messageWatchs: make(map[int]*messagesWatch),
		ids:           snowflake.NewNode(1),
		clock:         time.Now,
	}
}

// SetClock 替换后端时钟（测试用）
func (d *Docs) SetClock(clock func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
}

// GetUser 读取用户记录
func (d *Docs) GetUser(_ context.Context, uid string) (*model.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[uid]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return model.NormalizeUser(&rec), nil
}

// SetUser 写入用户记录
func (d *Docs) SetUser(_ context.Context, rec *model.UserRecord) error {
	d.mu.Lock()
	if d.FailWrites != nil {
		d.mu.Unlock()
		return d.FailWrites
	}
	now := d.clock()
	stored := *rec
	if prev, ok := d.users[rec.UID]; ok && !prev.CreatedAt.IsZero() {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.LastChanged = now
	d.users[rec.UID] = stored
	d.Writes++
	notify := d.collectUserLocked(rec.UID)
	d.mu.Unlock()

	notify()
	return nil
}

// UpdateStatus 更新在线状态
func (d *Docs) UpdateStatus(_ context.Context, uid string, status model.Status) error {
	d.mu.Lock()
	if d.FailWrites != nil {
		d.mu.Unlock()
		return d.FailWrites
	}
	rec, ok := d.users[uid]
	if !ok {
		d.mu.Unlock()
		return backend.ErrNotFound
	}
	rec.Status = status
	rec.LastChanged = d.clock()
	d.users[uid] = rec
	d.Writes++
	notify := d.collectUserLocked(uid)
	d.mu.Unlock()

	notify()
	return nil
}

// WatchUser 订阅单个用户记录
func (d *Docs) WatchUser(_ context.Context, uid string, handler backend.UserHandler) (backend.Subscription, error) {
	d.mu.Lock()
	id := d.nextWatch
	d.nextWatch++
	d.userWatches[id] = &userWatch{uid: uid, handler: handler}
	rec := d.userSnapshotLocked(uid)
	d.mu.Unlock()

	handler(rec, nil)

	return backend.NewSubscription(func() {
		d.mu.Lock()
		delete(d.userWatches, id)
		d.mu.Unlock()
	}), nil
}

// WatchUsers 订阅全部用户
func (d *Docs) WatchUsers(_ context.Context, handler backend.UsersHandler) (backend.Subscription, error) {
	d.mu.Lock()
	id := d.nextWatch
	d.nextWatch++
	d.usersWatches[id] = handler
	all := d.allUsersLocked()
	d.mu.Unlock()

	handler(all, nil)

	return backend.NewSubscription(func() {
		d.mu.Lock()
		delete(d.usersWatches, id)
		d.mu.Unlock()
	}), nil
}

// GetChat 读取群聊记录
func (d *Docs) GetChat(_ context.Context, id string) (*model.ChatRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.chats[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	rec.ParticipantIDs = append([]string(nil), rec.ParticipantIDs...)
	return &rec, nil
}

// CreateChat 写入群聊记录
func (d *Docs) CreateChat(_ context.Context, rec *model.ChatRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailWrites != nil {
		return d.FailWrites
	}
	stored := *rec
	stored.ParticipantIDs = append([]string(nil), rec.ParticipantIDs...)
	stored.CreatedAt = d.clock()
	d.chats[rec.ID] = stored
	d.Writes++
	return nil
}

// AddMessage 追加消息，时间戳不早于该会话最后一条消息
func (d *Docs) AddMessage(_ context.Context, chatID string, draft *model.MessageDraft) (*model.Message, error) {
	d.mu.Lock()
	if d.FailWrites != nil {
		d.mu.Unlock()
		return nil, d.FailWrites
	}

	ts := d.clock()
	list := d.messages[chatID]
	if n := len(list); n > 0 && ts.Before(list[n-1].Timestamp) {
		ts = list[n-1].Timestamp
	}

	msg := model.Message{
		ID:             d.ids.Generate().String(),
		ConversationID: chatID,
		SenderID:       draft.SenderID,
		SenderName:     draft.SenderName,
		SenderPhotoURL: draft.SenderPhotoURL,
		Text:           draft.Text,
		Timestamp:      ts,
	}
	if draft.Attachment != nil {
		att := *draft.Attachment
		msg.Attachment = &att
	}
	d.messages[chatID] = append(list, msg)
	d.Writes++

	snapshot := d.messagesSnapshotLocked(chatID)
	handlers := make([]backend.MessagesHandler, 0)
	for _, w := range d.messageWatchs {
		if w.chatID == chatID {
			handlers = append(handlers, w.handler)
		}
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(cloneMessages(snapshot), nil)
	}
	return &msg, nil
}

// WatchMessages 订阅会话消息快照
func (d *Docs) WatchMessages(_ context.Context, chatID string, handler backend.MessagesHandler) (backend.Subscription, error) {
	d.mu.Lock()
	id := d.nextWatch
	d.nextWatch++
	d.messageWatchs[id] = &messagesWatch{chatID: chatID, handler: handler}
	snapshot := d.messagesSnapshotLocked(chatID)
	d.mu.Unlock()

	handler(snapshot, nil)

	return backend.NewSubscription(func() {
		d.mu.Lock()
		delete(d.messageWatchs, id)
		d.mu.Unlock()
	}), nil
}

// FailSubscription 向某会话的所有订阅者推送错误（测试用）
func (d *Docs) FailSubscription(chatID string, err error) {
	d.mu.Lock()
	handlers := make([]backend.MessagesHandler, 0)
	for _, w := range d.messageWatchs {
		if w.chatID == chatID {
			handlers = append(handlers, w.handler)
		}
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(nil, err)
	}
}

// WatchCount 当前活跃订阅数
func (d *Docs) WatchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.userWatches) + len(d.usersWatches) + len(d.messageWatchs)
}

// MessageWatchCount 当前活跃的消息订阅数
func (d *Docs) MessageWatchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messageWatchs)
}

func (d *Docs) collectUserLocked(uid string) func() {
	rec := d.userSnapshotLocked(uid)
	single := make([]backend.UserHandler, 0)
	for _, w := range d.userWatches {
		if w.uid == uid {
			single = append(single, w.handler)
		}
	}
	var all []model.UserRecord
	many := make([]backend.UsersHandler, 0, len(d.usersWatches))
	for _, h := range d.usersWatches {
		many = append(many, h)
	}
	if len(many) > 0 {
		all = d.allUsersLocked()
	}
	return func() {
		for _, h := range single {
			if rec != nil {
				c := *rec
				h(&c, nil)
			} else {
				h(nil, nil)
			}
		}
		for _, h := range many {
			h(append([]model.UserRecord(nil), all...), nil)
		}
	}
}

func (d *Docs) userSnapshotLocked(uid string) *model.UserRecord {
	rec, ok := d.users[uid]
	if !ok {
		return nil
	}
	return model.NormalizeUser(&rec)
}

func (d *Docs) allUsersLocked() []model.UserRecord {
	all := make([]model.UserRecord, 0, len(d.users))
	for _, rec := range d.users {
		all = append(all, *model.NormalizeUser(&rec))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UID < all[j].UID })
	return all
}

func (d *Docs) messagesSnapshotLocked(chatID string) []model.Message {
	list := cloneMessages(d.messages[chatID])
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	return list
}

func cloneMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = m
		if m.Attachment != nil {
			att := *m.Attachment
			out[i].Attachment = &att
		}
	}
	return out
}
