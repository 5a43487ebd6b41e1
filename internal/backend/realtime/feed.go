package realtime

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.ripple/internal/backend"
)

// Subject 前缀
const (
	SubjectPrefix = "ripple"
	SubjectUsers  = SubjectPrefix + ".users"
)

// ChatSubject 会话消息变更主题
func ChatSubject(chatID string) string {
	return SubjectPrefix + ".chat." + chatID + ".messages"
}

// UserSubject 用户记录变更主题
func UserSubject(uid string) string {
	return SubjectPrefix + ".user." + uid
}

// ReloadFunc 重新加载并交付完整快照，ctx 在订阅取消后失效
type ReloadFunc func(ctx context.Context)

// Feed 变更通知
type Feed struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewFeed 创建变更通知
func NewFeed(nc *nats.Conn) *Feed {
	return &Feed{
		nc:     nc,
		logger: slog.Default(),
	}
}

// Notify 发布变更通知，通知不携带数据
func (f *Feed) Notify(subject string) error {
	return f.nc.Publish(subject, nil)
}

// Watch 先订阅主题再同步交付初始快照，之后每次通知重新加载。
// 重新加载期间到达的多次通知合并为一次。
func (f *Feed) Watch(ctx context.Context, subject string, reload ReloadFunc) (backend.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	signal := make(chan struct{}, 1)

	sub, err := f.nc.Subscribe(subject, func(*nats.Msg) {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	reload(watchCtx)

	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-signal:
				reload(watchCtx)
			}
		}
	}()

	return backend.NewSubscription(func() {
		cancel()
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			f.logger.Warn("Failed to unsubscribe feed", "subject", subject, "error", err)
		}
	}), nil
}
