package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// Service 会话服务
type Service struct {
	be       *backend.Backend
	resolver *Resolver
	clock    func() time.Time
	logger   *slog.Logger
}

// NewService 创建会话服务
func NewService(be *backend.Backend) *Service {
	return &Service{
		be:       be,
		resolver: NewResolver(be),
		clock:    time.Now,
		logger:   slog.Default(),
	}
}

// SetClock 替换本地模式时钟（测试用）
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Open 解析元数据并订阅消息，调用方负责 Close
func (s *Service) Open(ctx context.Context, id string, identity *model.Identity) (*View, error) {
	if identity == nil {
		return nil, appErrors.ErrNotAuthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.ErrInvalidParams
	}

	v := &View{
		id:        id,
		identity:  identity.Clone(),
		chats:     s.be.Chats,
		local:     !s.be.Connected(),
		clock:     s.clock,
		logger:    s.logger,
		listeners: make(map[int]func(Snapshot)),
		hooks:     make(map[int]SendHook),
		messages:  []model.Message{},
	}
	v.meta = s.resolver.Resolve(ctx, id, identity)

	if v.local {
		return v, nil
	}

	v.loading = true
	v.subscribe(ctx)
	return v, nil
}

// CreateGroup 创建群聊，创建者总是成员，ID 不含单聊分隔符
func (s *Service) CreateGroup(ctx context.Context, identity *model.Identity, name string, participantIDs []string) (*model.Conversation, error) {
	if identity == nil {
		return nil, appErrors.ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.ErrInvalidParams
	}

	ids := []string{identity.ID}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id != "" && !contains(ids, id) {
			ids = append(ids, id)
		}
	}

	rec := &model.ChatRecord{
		ID:               strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:             name,
		ParticipantIDs:   ids,
		ParticipantCount: len(ids),
	}
	if err := s.be.Chats.CreateChat(ctx, rec); err != nil {
		s.logger.Error("Failed to create group", "name", name, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	s.logger.Info("Group created", "chatId", rec.ID, "participants", len(ids))
	return &model.Conversation{
		ID:               rec.ID,
		Kind:             model.KindGroup,
		Name:             rec.Name,
		ParticipantIDs:   rec.ParticipantIDs,
		Participants:     []model.Participant{},
		ParticipantCount: rec.ParticipantCount,
	}, nil
}
