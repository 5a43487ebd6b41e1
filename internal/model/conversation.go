package model

import "time"

// ConversationKind 会话类型
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Participant 会话参与者（用于展示）
type Participant struct {
	ID          string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
	Status      Status `json:"status"`
}

// Conversation 解析后的会话元数据
type Conversation struct {
	ID               string           `json:"id"`
	Kind             ConversationKind `json:"kind"`
	Name             string           `json:"name"`
	ParticipantIDs   []string         `json:"participantIds"`
	Participants     []Participant    `json:"participants"`
	ParticipantCount int              `json:"participantCount"`
}

// ChatRecord 群聊持久记录
type ChatRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ParticipantIDs   []string  `json:"participants"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NormalizeChat 在接入边界校正成员数：有成员列表时以列表长度为准
func NormalizeChat(rec *ChatRecord) *ChatRecord {
	if rec == nil {
		return nil
	}
	if rec.ParticipantIDs == nil {
		rec.ParticipantIDs = []string{}
	}
	if len(rec.ParticipantIDs) > 0 {
		rec.ParticipantCount = len(rec.ParticipantIDs)
	}
	if rec.ParticipantCount < 0 {
		rec.ParticipantCount = 0
	}
	return rec
}

// ParticipantFromUser 从用户记录构建参与者
func ParticipantFromUser(u *UserRecord) Participant {
	return Participant{
		ID:          u.UID,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		Status:      u.Status,
	}
}

// ParticipantFromIdentity 从当前身份构建参与者
func ParticipantFromIdentity(i *Identity) Participant {
	return Participant{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		PhotoURL:    i.PhotoURL,
		Status:      i.Status,
	}
}
