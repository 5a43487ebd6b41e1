package smartreply

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSuggester 通过 NATS request/reply 调用建议服务
type NATSSuggester struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSSuggester 创建 NATS 建议客户端
func NewNATSSuggester(conn *nats.Conn, subject string, timeout time.Duration) *NATSSuggester {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSSuggester{conn: conn, subject: subject, timeout: timeout}
}

// Suggest 发送请求并解析响应，传输或格式错误都返回 error
func (s *NATSSuggester) Suggest(ctx context.Context, turns []Turn) ([]string, error) {
	data, err := json.Marshal(Request{Messages: turns})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.conn.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		return nil, fmt.Errorf("smart reply request: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("smart reply response: %w", err)
	}
	if resp.Suggestions == nil {
		return nil, fmt.Errorf("smart reply response: missing suggestions")
	}
	return clean(resp.Suggestions), nil
}

// Serve 以 Suggester 响应建议请求，供本地联调与测试使用
func Serve(conn *nats.Conn, subject string, suggester Suggester) (*nats.Subscription, error) {
	logger := slog.Default()
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Warn("Invalid smart reply request", "error", err)
			return
		}

		suggestions, err := suggester.Suggest(context.Background(), req.Messages)
		if err != nil {
			logger.Warn("Smart reply generation failed", "error", err)
			return
		}
		if suggestions == nil {
			suggestions = []string{}
		}

		data, err := json.Marshal(Response{Suggestions: suggestions})
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("Failed to respond smart reply", "error", err)
		}
	})
}
