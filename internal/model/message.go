package model

import (
	"strings"
	"time"
)

// Attachment 消息附件，仅在上传完成后产生
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Name        string `json:"name"`
}

// Message 消息实体，创建后不可变
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"chatId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	SenderPhotoURL string      `json:"senderPhotoURL,omitempty"`
	Text           string      `json:"text,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

// AttachmentURL 附件地址，无附件时为空
func (m *Message) AttachmentURL() string {
	if m.Attachment == nil {
		return ""
	}
	return m.Attachment.URL
}

// MessageDraft 待写入的消息（时间戳由后端分配）
type MessageDraft struct {
	SenderID       string
	SenderName     string
	SenderPhotoURL string
	Text           string
	Attachment     *Attachment
}

// Empty 文本与附件均为空
func (d *MessageDraft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && (d.Attachment == nil || d.Attachment.URL == "")
}

// NormalizeMessage 在接入边界补全缺失字段
// 后端尚未回填时间戳时以当前时间占位
func NormalizeMessage(m *Message, conversationID string, now time.Time) *Message {
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.Attachment != nil && m.Attachment.URL == "" {
		m.Attachment = nil
	}
	if m.Attachment != nil && m.Attachment.ContentType == "" {
		m.Attachment.ContentType = "application/octet-stream"
	}
	return m
}
