package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/backend/realtime"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/pkg/snowflake"
)

// ChangeFeed 变更通知
type ChangeFeed interface {
	Notify(subject string) error
	Watch(ctx context.Context, subject string, reload realtime.ReloadFunc) (backend.Subscription, error)
}

// Store 文档存储，实现 UserStore 与 ChatStore
type Store struct {
	db     *pgxpool.Pool
	feed   ChangeFeed
	ids    *snowflake.Node
	logger *slog.Logger
}

// NewStore 创建文档存储
func NewStore(db *pgxpool.Pool, feed ChangeFeed, ids *snowflake.Node) *Store {
	return &Store{
		db:     db,
		feed:   feed,
		ids:    ids,
		logger: slog.Default(),
	}
}

func (s *Store) notify(subjects ...string) {
	for _, subject := range subjects {
		if err := s.feed.Notify(subject); err != nil {
			s.logger.Warn("Failed to publish change", "subject", subject, "error", err)
		}
	}
}

const selectUser = `
	SELECT uid, email, display_name, photo_url, status, last_changed, created_at
	FROM users
`

func scanUser(row pgx.Row) (*model.UserRecord, error) {
	var rec model.UserRecord
	err := row.Scan(
		&rec.UID,
		&rec.Email,
		&rec.DisplayName,
		&rec.PhotoURL,
		&rec.Status,
		&rec.LastChanged,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return model.NormalizeUser(&rec), nil
}

// GetUser 根据 uid 读取用户记录
func (s *Store) GetUser(ctx context.Context, uid string) (*model.UserRecord, error) {
	rec, err := scanUser(s.db.QueryRow(ctx, selectUser+` WHERE uid = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// SetUser 写入用户记录，created_at 仅在首次写入时分配
func (s *Store) SetUser(ctx context.Context, rec *model.UserRecord) error {
	query := `
		INSERT INTO users (uid, email, display_name, photo_url, status, last_changed)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (uid) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			photo_url = EXCLUDED.photo_url,
			status = EXCLUDED.status,
			last_changed = now()
	`
	status := rec.Status
	if _, ok := model.ParseStatus(string(status)); !ok {
		status = model.StatusOffline
	}
	if _, err := s.db.Exec(ctx, query, rec.UID, rec.Email, rec.DisplayName, rec.PhotoURL, status); err != nil {
		return err
	}
	s.notify(realtime.UserSubject(rec.UID), realtime.SubjectUsers)
	return nil
}

// UpdateStatus 更新在线状态，last_changed 由数据库分配
func (s *Store) UpdateStatus(ctx context.Context, uid string, status model.Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET status = $2, last_changed = now() WHERE uid = $1`, uid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	s.notify(realtime.UserSubject(uid), realtime.SubjectUsers)
	return nil
}

// WatchUser 订阅单个用户记录
func (s *Store) WatchUser(ctx context.Context, uid string, handler backend.UserHandler) (backend.Subscription, error) {
	return s.feed.Watch(ctx, realtime.UserSubject(uid), func(ctx context.Context) {
		rec, err := s.GetUser(ctx, uid)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, backend.ErrNotFound) {
			handler(nil, nil)
			return
		}
		handler(rec, err)
	})
}

// WatchUsers 订阅全部用户
func (s *Store) WatchUsers(ctx context.Context, handler backend.UsersHandler) (backend.Subscription, error) {
	return s.feed.Watch(ctx, realtime.SubjectUsers, func(ctx context.Context) {
		recs, err := s.listUsers(ctx)
		if ctx.Err() != nil {
			return
		}
		handler(recs, err)
	})
}

func (s *Store) listUsers(ctx context.Context) ([]model.UserRecord, error) {
	rows, err := s.db.Query(ctx, selectUser+` ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]model.UserRecord, 0)
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// GetChat 读取群聊记录
func (s *Store) GetChat(ctx context.Context, id string) (*model.ChatRecord, error) {
	query := `
		SELECT id, name, participants, participant_count, created_at
		FROM chats WHERE id = $1
	`
	var rec model.ChatRecord
	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Name,
		&rec.ParticipantIDs,
		&rec.ParticipantCount,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// CreateChat 创建群聊
func (s *Store) CreateChat(ctx context.Context, rec *model.ChatRecord) error {
	query := `
		INSERT INTO chats (id, name, participants, participant_count)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	return s.db.QueryRow(ctx, query,
		rec.ID,
		rec.Name,
		rec.ParticipantIDs,
		rec.ParticipantCount,
	).Scan(&rec.CreatedAt)
}

// AddMessage 写入消息，时间戳取数据库时钟且不早于该会话最后一条消息
func (s *Store) AddMessage(ctx context.Context, chatID string, draft *model.MessageDraft) (*model.Message, error) {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, sender_name, sender_photo_url, text,
			attachment_url, attachment_type, attachment_name, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			GREATEST(clock_timestamp(),
				COALESCE((SELECT MAX(timestamp) FROM messages WHERE chat_id = $2), '-infinity'::timestamptz)))
		RETURNING timestamp
	`
	id := s.ids.Generate()
	msg := &model.Message{
		ID:             id.String(),
		ConversationID: chatID,
		SenderID:       draft.SenderID,
		SenderName:     draft.SenderName,
		SenderPhotoURL: draft.SenderPhotoURL,
		Text:           draft.Text,
	}
	var attURL, attType, attName string
	if draft.Attachment != nil {
		att := *draft.Attachment
		msg.Attachment = &att
		attURL, attType, attName = att.URL, att.ContentType, att.Name
	}

	err := s.db.QueryRow(ctx, query,
		id.Int64(),
		chatID,
		draft.SenderID,
		draft.SenderName,
		draft.SenderPhotoURL,
		draft.Text,
		attURL,
		attType,
		attName,
	).Scan(&msg.Timestamp)
	if err != nil {
		return nil, err
	}

	s.notify(realtime.ChatSubject(chatID))
	return msg, nil
}

// WatchMessages 按 (timestamp, id) 升序订阅消息快照
func (s *Store) WatchMessages(ctx context.Context, chatID string, handler backend.MessagesHandler) (backend.Subscription, error) {
	return s.feed.Watch(ctx, realtime.ChatSubject(chatID), func(ctx context.Context) {
		msgs, err := s.listMessages(ctx, chatID)
		if ctx.Err() != nil {
			return
		}
		handler(msgs, err)
	})
}

func (s *Store) listMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, sender_name, sender_photo_url, text,
			attachment_url, attachment_type, attachment_name, timestamp
		FROM messages
		WHERE chat_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var (
			m                        model.Message
			id                       int64
			attURL, attType, attName string
		)
		if err := rows.Scan(
			&id,
			&m.ConversationID,
			&m.SenderID,
			&m.SenderName,
			&m.SenderPhotoURL,
			&m.Text,
			&attURL,
			&attType,
			&attName,
			&m.Timestamp,
		); err != nil {
			return nil, err
		}
		m.ID = snowflake.ID(id).String()
		if attURL != "" {
			m.Attachment = &model.Attachment{URL: attURL, ContentType: attType, Name: attName}
		}
		msgs = append(msgs, *model.NormalizeMessage(&m, chatID, m.Timestamp))
	}
	return msgs, rows.Err()
}
