package model

import (
	"strings"
	"time"
)

// Status 在线状态
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ParseStatus 解析状态值，未知值返回 false
func ParseStatus(v string) (Status, bool) {
	switch Status(v) {
	case StatusOnline:
		return StatusOnline, true
	case StatusOffline:
		return StatusOffline, true
	}
	return "", false
}

// Identity 当前登录身份
type Identity struct {
	ID          string `json:"uid" yaml:"uid"`
	Email       string `json:"email" yaml:"email"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	PhotoURL    string `json:"photoURL" yaml:"photoURL"`
	Status      Status `json:"status" yaml:"status"`
}

// SenderName 消息发送者名称：昵称 > 邮箱 > Anonymous
func (i *Identity) SenderName() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if i.Email != "" {
		return i.Email
	}
	return "Anonymous"
}

// Clone 返回副本
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// UserRecord 用户持久记录（展示用的权威数据）
type UserRecord struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Status      Status    `json:"status"`
	LastChanged time.Time `json:"lastChanged"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NormalizeUser 在接入边界补全缺失字段
func NormalizeUser(rec *UserRecord) *UserRecord {
	if rec == nil {
		return nil
	}
	if _, ok := ParseStatus(string(rec.Status)); !ok {
		rec.Status = StatusOffline
	}
	return rec
}

// AuthUser 认证服务返回的账户信息
type AuthUser struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// PlaceholderAvatar 以名称首字母生成占位头像地址
func PlaceholderAvatar(name string) string {
	initial := ""
	for _, r := range name {
		initial = strings.ToUpper(string(r))
		break
	}
	return "https://placehold.co/100x100.png?text=" + initial
}
