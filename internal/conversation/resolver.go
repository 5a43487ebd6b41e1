package conversation

import (
	"context"
	"errors"
	"log/slog"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
)

const (
	fallbackUserName  = "Chat User"
	fallbackGroupName = "Group Chat"
	generalID         = "general"
	generalName       = "General"
)

// Resolver 会话元数据解析，每个会话只读取一次，不订阅
type Resolver struct {
	users  backend.UserStore
	chats  backend.ChatStore
	local  bool
	logger *slog.Logger
}

// NewResolver 创建解析器
func NewResolver(be *backend.Backend) *Resolver {
	return &Resolver{
		users:  be.Users,
		chats:  be.Chats,
		local:  !be.Connected(),
		logger: slog.Default(),
	}
}

// Resolve 解析会话元数据，读取失败时降级为占位信息
func (r *Resolver) Resolve(ctx context.Context, id string, self *model.Identity) *model.Conversation {
	kind := ParseKind(id)
	if r.local {
		return r.resolveLocal(id, kind, self)
	}
	if kind == model.KindDirect {
		return r.resolveDirect(ctx, id, self)
	}
	return r.resolveGroup(ctx, id)
}

func (r *Resolver) resolveLocal(id string, kind model.ConversationKind, self *model.Identity) *model.Conversation {
	conv := &model.Conversation{
		ID:               id,
		Kind:             kind,
		Name:             DisplayName(id),
		ParticipantIDs:   []string{self.ID},
		Participants:     []model.Participant{model.ParticipantFromIdentity(self)},
		ParticipantCount: 1,
	}
	if kind == model.KindDirect {
		conv.ParticipantIDs = Members(id)
		conv.ParticipantCount = 2
	}
	return conv
}

// resolveDirect 单聊：参与者为 [当前用户, 对方]，对方记录缺失时降级为 1 人
func (r *Resolver) resolveDirect(ctx context.Context, id string, self *model.Identity) *model.Conversation {
	conv := &model.Conversation{
		ID:               id,
		Kind:             model.KindDirect,
		Name:             fallbackUserName,
		ParticipantIDs:   Members(id),
		Participants:     []model.Participant{model.ParticipantFromIdentity(self)},
		ParticipantCount: 1,
	}

	other, ok := Counterpart(id, self.ID)
	if !ok {
		r.logger.Warn("Current user is not a member of direct chat", "chatId", id, "uid", self.ID)
		return conv
	}

	rec, err := r.users.GetUser(ctx, other)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			r.logger.Warn("Failed to fetch counterpart", "chatId", id, "uid", other, "error", err)
		}
		return conv
	}

	conv.Name = firstNonEmpty(rec.DisplayName, rec.Email, fallbackUserName)
	conv.Participants = append(conv.Participants, model.ParticipantFromUser(rec))
	conv.ParticipantCount = 2
	return conv
}

// resolveGroup 群聊：采用持久记录的名称与成员，记录缺失时使用占位名称
func (r *Resolver) resolveGroup(ctx context.Context, id string) *model.Conversation {
	conv := &model.Conversation{
		ID:             id,
		Kind:           model.KindGroup,
		Name:           groupFallbackName(id),
		ParticipantIDs: []string{},
		Participants:   []model.Participant{},
	}

	rec, err := r.chats.GetChat(ctx, id)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			r.logger.Warn("Failed to fetch chat", "chatId", id, "error", err)
		}
		return conv
	}

	rec = model.NormalizeChat(rec)
	if rec.Name != "" {
		conv.Name = rec.Name
	}
	conv.ParticipantIDs = rec.ParticipantIDs
	conv.ParticipantCount = rec.ParticipantCount
	return conv
}

func groupFallbackName(id string) string {
	if id == generalID {
		return generalName
	}
	return fallbackGroupName
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
