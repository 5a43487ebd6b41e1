package smartreply

import (
	"context"
	"strings"
)

// Canned 本地模式的固定建议
type Canned struct{}

// Suggest 根据最后一条对方消息给出固定建议
func (Canned) Suggest(_ context.Context, turns []Turn) ([]string, error) {
	if len(turns) == 0 {
		return []string{}, nil
	}
	last := turns[len(turns)-1]
	if last.Sender != SenderOther {
		return []string{}, nil
	}
	if strings.HasSuffix(last.Text, "?") {
		return []string{"Yes", "No", "Not sure yet"}, nil
	}
	return []string{"👍", "Thanks!", "Sounds good"}, nil
}
