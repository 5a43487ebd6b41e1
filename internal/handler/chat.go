package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/composer"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/upload"
	appErrors "sudooom.im.ripple/pkg/errors"
	"sudooom.im.ripple/pkg/response"
)

// maxUploadBytes 单个附件或语音的大小上限
const maxUploadBytes = 32 << 20

// SendRequest 发送消息请求
type SendRequest struct {
	Text string `json:"text"`
}

// DraftRequest 草稿更新请求，Emoji 非空时插入表情
type DraftRequest struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji"`
}

// CreateGroupRequest 创建群聊请求
type CreateGroupRequest struct {
	Name           string   `json:"name" binding:"required"`
	ParticipantIDs []string `json:"participantIds"`
}

// RoomResponse 会话详情
type RoomResponse struct {
	Conversation *model.Conversation   `json:"conversation"`
	Snapshot     conversation.Snapshot `json:"snapshot"`
	Composer     composer.State        `json:"composer"`
	Suggestions  []string              `json:"suggestions"`
}

// UploadResponse 上传已开始
type UploadResponse struct {
	Path     string          `json:"path"`
	Progress upload.Progress `json:"progress"`
}

// ChatHandler 会话处理器
type ChatHandler struct {
	client *app.Client
}

// NewChatHandler 创建会话处理器
func NewChatHandler(client *app.Client) *ChatHandler {
	return &ChatHandler{client: client}
}

func (h *ChatHandler) room(c *gin.Context) (*app.Room, bool) {
	r, err := h.client.Room(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return r, true
}

// Get 会话元数据、消息与输入面状态
func (h *ChatHandler) Get(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	response.Success(c, RoomResponse{
		Conversation: r.View.Meta(),
		Snapshot:     r.View.Snapshot(),
		Composer:     r.Composer.State(),
		Suggestions:  r.Advisor.Suggestions(),
	})
}

// Close 关闭会话，释放订阅
func (h *ChatHandler) Close(c *gin.Context) {
	h.client.CloseRoom(c.Param("id"))
	response.Success(c, nil)
}

// SendMessage 发送文本消息，text 为空时发送当前草稿
func (h *ChatHandler) SendMessage(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}
	if req.Text != "" {
		if err := r.Composer.SetDraft(req.Text); err != nil {
			response.Error(c, err)
			return
		}
	}

	msg, err := r.Composer.Send(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// UpdateDraft 更新草稿或插入表情
func (h *ChatHandler) UpdateDraft(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}

	var err error
	if req.Emoji != "" {
		err = r.Composer.InsertEmoji(req.Emoji)
	} else {
		err = r.Composer.SetDraft(req.Text)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, r.Composer.State())
}

// Attach 上传附件（multipart 字段 file），完成后与草稿合并发送
func (h *ChatHandler) Attach(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}
	if fh.Size > maxUploadBytes {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, appErrors.ErrUploadFailed.Wrap(err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, appErrors.ErrUploadFailed.Wrap(err))
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	t, err := r.Composer.Attach(upload.File{Name: fh.Filename, ContentType: contentType, Data: data})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UploadResponse{Path: t.Path(), Progress: t.Progress()})
}

// CancelAttachment 取消进行中的上传
func (h *ChatHandler) CancelAttachment(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"cancelled": r.Composer.CancelUpload()})
}

// Voice 上传语音（请求体为 audio/webm 音频）
func (h *ChatHandler) Voice(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil {
		response.Error(c, appErrors.ErrUploadFailed.Wrap(err))
		return
	}
	if len(data) > maxUploadBytes {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, "recording too large")
		return
	}

	t, err := r.Composer.SendVoice(data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UploadResponse{Path: t.Path(), Progress: t.Progress()})
}

// Suggestions 当前智能回复
func (h *ChatHandler) Suggestions(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	response.Success(c, r.Advisor.Suggestions())
}

// SelectSuggestion 发送第 index 条建议
func (h *ChatHandler) SelectSuggestion(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Error(c, appErrors.ErrInvalidParams)
		return
	}

	msg, err := r.Advisor.Select(c.Request.Context(), index)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// CreateGroup 创建群聊
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}

	conv, err := h.client.CreateGroup(c.Request.Context(), req.Name, req.ParticipantIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}
