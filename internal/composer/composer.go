// Package composer 会话输入面：文本草稿、表情插入、附件与语音上传。
package composer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/upload"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// VoiceContentType 语音消息类型
const VoiceContentType = "audio/webm"

// Palette 可插入的表情
var Palette = []string{"😀", "😂", "😍", "👍", "🙏", "🎉", "❤️", "🔥", "😢", "😮"}

// State 输入面状态
type State struct {
	Draft     string          `json:"draft"`
	Recording bool            `json:"recording"`
	Uploading bool            `json:"uploading"`
	Progress  upload.Progress `json:"progress"`
	// Error 最近一次上传或发送失败的提示，取消不产生提示
	Error string `json:"error,omitempty"`
}

// Composer 单个会话的输入面
type Composer struct {
	view     *conversation.View
	slot     *upload.Slot
	recorder Recorder
	clock    func() time.Time
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	draft     string
	recording bool
	progress  upload.Progress
	lastErr   string
	next      int
	listeners map[int]func(State)
}

// New 创建输入面，recorder 为空时不支持录音
func New(view *conversation.View, pipeline *upload.Pipeline, recorder Recorder) *Composer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Composer{
		view:      view,
		slot:      upload.NewSlot(pipeline),
		recorder:  recorder,
		clock:     time.Now,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(State)),
	}
}

// SetClock 替换时钟（测试用）
func (c *Composer) SetClock(clock func() time.Time) {
	c.clock = clock
}

// State 当前状态
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// OnChange 订阅状态变化，注册时立即回调
func (c *Composer) OnChange(listener func(State)) backend.Subscription {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = listener
	st := c.stateLocked()
	c.mu.Unlock()

	listener(st)

	return backend.NewSubscription(func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}

// SetDraft 替换草稿，上传进行中时拒绝输入
func (c *Composer) SetDraft(text string) error {
	if c.slot.Busy() {
		return appErrors.ErrUploadInFlight
	}
	c.update(func() { c.draft = text })
	return nil
}

// InsertEmoji 在草稿末尾插入表情
func (c *Composer) InsertEmoji(emoji string) error {
	if !inPalette(emoji) {
		return appErrors.ErrInvalidParams
	}
	if c.slot.Busy() {
		return appErrors.ErrUploadInFlight
	}
	c.update(func() { c.draft += emoji })
	return nil
}

// Send 发送草稿文本，成功后清空草稿
func (c *Composer) Send(ctx context.Context) (*model.Message, error) {
	if c.slot.Busy() {
		return nil, appErrors.ErrUploadInFlight
	}
	c.mu.Lock()
	text := c.draft
	c.mu.Unlock()

	msg, err := c.view.Send(ctx, text, nil)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		c.update(func() {
			c.draft = ""
			c.lastErr = ""
		})
	}
	return msg, nil
}

// Attach 上传附件，完成后与当前草稿合并为一条消息发送
func (c *Composer) Attach(file upload.File) (*upload.Task, error) {
	chatID := c.view.ID()
	t, err := c.slot.Start(c.ctx, chatID, file, upload.Callbacks{
		OnProgress: func(p upload.Progress) {
			c.update(func() { c.progress = p })
		},
		OnComplete: c.onUploaded,
		OnError:    c.onUploadError,
	})
	if err != nil {
		return nil, err
	}

	c.update(func() {
		c.progress = upload.Progress{Total: int64(len(file.Data))}
		c.lastErr = ""
	})
	return t, nil
}

// CancelUpload 取消进行中的上传，不产生错误提示与消息
func (c *Composer) CancelUpload() bool {
	if !c.slot.Cancel() {
		return false
	}
	c.update(func() { c.progress = upload.Progress{} })
	return true
}

// StartRecording 开始录制语音
func (c *Composer) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return appErrors.ErrInvalidParams
	}
	if c.slot.Busy() {
		return appErrors.ErrUploadInFlight
	}
	if err := c.recorder.Start(ctx); err != nil {
		return err
	}
	c.update(func() { c.recording = true })
	return nil
}

// StopRecording 结束录音并作为语音附件上传
func (c *Composer) StopRecording(ctx context.Context) (*upload.Task, error) {
	if c.recorder == nil {
		return nil, appErrors.ErrInvalidParams
	}
	data, err := c.recorder.Stop(ctx)
	c.update(func() { c.recording = false })
	if err != nil {
		return nil, err
	}
	return c.SendVoice(data)
}

// SendVoice 将内存中的音频打包为带时间戳文件名的语音附件，不做压缩
func (c *Composer) SendVoice(data []byte) (*upload.Task, error) {
	if len(data) == 0 {
		return nil, appErrors.ErrInvalidParams
	}
	return c.Attach(upload.File{
		Name:        VoiceNoteName(c.clock()),
		ContentType: VoiceContentType,
		Data:        data,
		Raw:         true,
	})
}

// VoiceNoteName 语音文件名
func VoiceNoteName(at time.Time) string {
	return "voice-note-" + at.UTC().Format(time.RFC3339) + ".webm"
}

// Close 取消进行中的上传并释放监听
func (c *Composer) Close() {
	c.slot.Cancel()
	c.cancel()
	c.mu.Lock()
	c.listeners = make(map[int]func(State))
	c.mu.Unlock()
}

// onUploaded 上传完成：附件与草稿合并发送，然后清空草稿
func (c *Composer) onUploaded(att *model.Attachment) {
	c.mu.Lock()
	text := c.draft
	c.mu.Unlock()

	if _, err := c.view.Send(c.ctx, text, att); err != nil {
		c.logger.Error("Failed to send attachment message", "chatId", c.view.ID(), "error", err)
		c.update(func() {
			c.progress = upload.Progress{}
			c.lastErr = appErrors.GetMessage(err)
		})
		return
	}

	c.update(func() {
		c.draft = ""
		c.progress = upload.Progress{}
		c.lastErr = ""
	})
}

// onUploadError 取消不提示，其它失败保留提示直到下一次操作
func (c *Composer) onUploadError(err error) {
	if appErrors.Is(err, appErrors.ErrUploadCancelled) {
		c.update(func() { c.progress = upload.Progress{} })
		return
	}
	c.update(func() {
		c.progress = upload.Progress{}
		c.lastErr = appErrors.GetMessage(err)
	})
}

// update 修改状态并通知监听者
func (c *Composer) update(fn func()) {
	c.mu.Lock()
	fn()
	st := c.stateLocked()
	listeners := make([]func(State), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
}

func (c *Composer) stateLocked() State {
	return State{
		Draft:     c.draft,
		Recording: c.recording,
		Uploading: c.slot.Busy(),
		Progress:  c.progress,
		Error:     c.lastErr,
	}
}

func inPalette(emoji string) bool {
	for _, e := range Palette {
		if e == emoji {
			return true
		}
	}
	return false
}
