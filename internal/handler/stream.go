package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/composer"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/pkg/response"
)

const (
	readDeadline = 90 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = int64(4 << 10)
)

// 推送事件类型
const (
	EventSnapshot    = "snapshot"
	EventUpload      = "upload"
	EventSuggestions = "suggestions"
)

// Event 推送给客户端的事件
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StreamHandler 会话实时推送
type StreamHandler struct {
	client   *app.Client
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler 创建推送处理器，allowedOrigins 含 "*" 时不校验来源
func NewStreamHandler(client *app.Client, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		client: client,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: slog.Default(),
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Stream 升级为 WebSocket，推送快照、上传状态与智能回复，同类事件只保留最新一条
func (h *StreamHandler) Stream(c *gin.Context) {
	room, err := h.client.Room(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "chatId", room.ID(), "error", err)
		return
	}
	defer conn.Close()

	out := newOutbox()
	subs := []backend.Subscription{
		room.View.OnChange(func(s conversation.Snapshot) { out.put(EventSnapshot, s) }),
		room.Composer.OnChange(func(s composer.State) { out.put(EventUpload, s) }),
		room.Advisor.OnChange(func(s []string) { out.put(EventSuggestions, s) }),
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	h.logger.Debug("Stream opened", "chatId", room.ID())

	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("Stream closed", "chatId", room.ID())
			return
		case <-c.Request.Context().Done():
			return
		case <-room.Done():
			// 切换会话或身份变化后 Room 已关闭
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-out.signal:
			for _, ev := range out.drain() {
				if err := writeJSON(conn, ev); err != nil {
					h.logger.Debug("Stream write failed", "chatId", room.ID(), "error", err)
					return
				}
			}
		}
	}
}

// readLoop 只处理控制帧，客户端断开时关闭 done
func (h *StreamHandler) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// outbox 按事件类型合并待发送数据
type outbox struct {
	mu      sync.Mutex
	order   []string
	pending map[string]interface{}
	signal  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		pending: make(map[string]interface{}),
		signal:  make(chan struct{}, 1),
	}
}

func (o *outbox) put(typ string, data interface{}) {
	o.mu.Lock()
	prev, ok := o.pending[typ]
	if !ok {
		o.order = append(o.order, typ)
	}
	o.pending[typ] = mergeSnapshot(prev, data)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// mergeSnapshot 被合并的快照中有新消息时保留平滑滚动
func mergeSnapshot(prev, next interface{}) interface{} {
	p, ok := prev.(conversation.Snapshot)
	if !ok || p.Scroll != conversation.ScrollSmooth {
		return next
	}
	n, ok := next.(conversation.Snapshot)
	if !ok {
		return next
	}
	n.Scroll = conversation.ScrollSmooth
	return n
}

func (o *outbox) drain() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	events := make([]Event, 0, len(o.order))
	for _, typ := range o.order {
		events = append(events, Event{Type: typ, Data: o.pending[typ]})
	}
	o.order = o.order[:0]
	o.pending = make(map[string]interface{})
	return events
}
