// Package directory 管理员用户目录：实时订阅全部用户记录，仅管理员可用。
package directory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// Handler 目录快照回调
type Handler func(users []model.UserRecord, err error)

// Directory 用户目录
type Directory struct {
	users      backend.UserStore
	adminEmail string
	logger     *slog.Logger
}

// New 创建用户目录，adminEmail 为空时任何人都无权访问
func New(users backend.UserStore, adminEmail string) *Directory {
	return &Directory{
		users:      users,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		logger:     slog.Default(),
	}
}

// Allowed 当前身份是否为管理员
func (d *Directory) Allowed(identity *model.Identity) bool {
	if identity == nil || d.adminEmail == "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(identity.Email)) == d.adminEmail
}

// Watch 订阅按昵称排序的用户列表
func (d *Directory) Watch(ctx context.Context, identity *model.Identity, handler Handler) (backend.Subscription, error) {
	if identity == nil {
		return nil, appErrors.ErrNotAuthenticated
	}
	if !d.Allowed(identity) {
		d.logger.Warn("Directory access denied", "uid", identity.ID)
		return nil, appErrors.ErrForbidden
	}

	sub, err := d.users.WatchUsers(ctx, func(recs []model.UserRecord, err error) {
		if err != nil {
			d.logger.Error("User directory subscription error", "error", err)
			handler(nil, appErrors.ErrSubscription.Wrap(err))
			return
		}
		handler(Sorted(recs), nil)
	})
	if err != nil {
		return nil, appErrors.ErrSubscription.Wrap(err)
	}
	return sub, nil
}

// List 读取一次当前用户列表
func (d *Directory) List(ctx context.Context, identity *model.Identity) ([]model.UserRecord, error) {
	var (
		once   sync.Once
		result []model.UserRecord
		first  error
		ready  = make(chan struct{})
	)
	sub, err := d.Watch(ctx, identity, func(users []model.UserRecord, err error) {
		once.Do(func() {
			result, first = users, err
			close(ready)
		})
	})
	if err != nil {
		return nil, err
	}
	defer sub.Cancel()

	select {
	case <-ready:
		return result, first
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sorted 按昵称（缺失时邮箱）不区分大小写排序
func Sorted(recs []model.UserRecord) []model.UserRecord {
	out := make([]model.UserRecord, len(recs))
	for i := range recs {
		out[i] = *model.NormalizeUser(&recs[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := sortKey(&out[i]), sortKey(&out[j])
		if a == b {
			return out[i].UID < out[j].UID
		}
		return a < b
	})
	return out
}

func sortKey(rec *model.UserRecord) string {
	if rec.DisplayName != "" {
		return strings.ToLower(rec.DisplayName)
	}
	return strings.ToLower(rec.Email)
}
