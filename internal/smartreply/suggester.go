// Package smartreply 智能回复：对方发来消息后防抖请求建议回复，结果仅供参考，失败只记录日志。
package smartreply

import (
	"context"
	"strings"

	"sudooom.im.ripple/internal/model"
)

// 请求中的发送方角色
const (
	SenderUser  = "user"
	SenderOther = "other"
)

// Turn 提示上下文中的一条消息，不含附件
type Turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Request 建议请求
type Request struct {
	Messages []Turn `json:"messages"`
}

// Response 建议响应
type Response struct {
	Suggestions []string `json:"suggestions"`
}

// Suggester 建议回复生成服务
type Suggester interface {
	Suggest(ctx context.Context, turns []Turn) ([]string, error)
}

// BuildTurns 取最近 history 条消息映射为提示上下文，纯附件消息不进入上下文
func BuildTurns(msgs []model.Message, selfID string, history int) []Turn {
	if history <= 0 {
		history = 5
	}
	if len(msgs) > history {
		msgs = msgs[len(msgs)-history:]
	}

	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		sender := SenderOther
		if m.SenderID == selfID {
			sender = SenderUser
		}
		turns = append(turns, Turn{Sender: sender, Text: text})
	}
	return turns
}

// clean 去掉空白建议
func clean(suggestions []string) []string {
	out := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
