// Package upload 附件上传：图片压缩、按会话命名存储路径、可取消且可观察进度的上传任务。
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// AttachmentFolder 会话附件的顶层目录
const AttachmentFolder = "chat-attachments"

// File 待上传的文件或内存中的音频片段
type File struct {
	Name        string
	ContentType string
	Data        []byte
	// Raw 跳过图片压缩（语音等）
	Raw bool
}

// AttachmentPath 存储路径：chat-attachments/{会话}/{毫秒时间戳}_{文件名}
func AttachmentPath(chatID string, at time.Time, name string) string {
	return fmt.Sprintf("%s/%s/%d_%s", AttachmentFolder, chatID, at.UnixMilli(), sanitizeName(name))
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// Pipeline 上传流水线
type Pipeline struct {
	objects backend.ObjectStore
	cfg     config.UploadConfig
	clock   func() time.Time
	logger  *slog.Logger
}

// NewPipeline 创建上传流水线
func NewPipeline(objects backend.ObjectStore, cfg config.UploadConfig) *Pipeline {
	return &Pipeline{
		objects: objects,
		cfg:     cfg,
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// SetClock 替换时钟（测试用）
func (p *Pipeline) SetClock(clock func() time.Time) {
	p.clock = clock
}

// Prepare 图片按配置压缩，其余内容原样通过
func (p *Pipeline) Prepare(file File) (File, error) {
	if file.Raw || !IsImage(file.ContentType) {
		return file, nil
	}
	data, name, ct, err := Recompress(file.Data, file.Name, file.ContentType, p.cfg.MaxWidth, p.cfg.Quality)
	if err != nil {
		return file, err
	}
	file.Data, file.Name, file.ContentType = data, name, ct
	return file, nil
}

// Start 异步上传到会话附件目录，回调见 Callbacks。
// 上传的生命周期与 ctx 绑定，ctx 结束视为取消。
func (p *Pipeline) Start(ctx context.Context, chatID string, file File, cb Callbacks) (*Task, error) {
	return p.start(ctx, chatID, file, cb, nil)
}

func (p *Pipeline) start(ctx context.Context, chatID string, file File, cb Callbacks, onFinish func()) (*Task, error) {
	if p.objects == nil {
		return nil, appErrors.ErrStorageUnavailable
	}
	if chatID == "" || len(file.Data) == 0 {
		return nil, appErrors.ErrInvalidParams
	}
	if file.ContentType == "" {
		file.ContentType = "application/octet-stream"
	}
	// 压缩可能改变文件名，存储路径取处理后的名字
	prepared, err := p.Prepare(file)
	if err != nil {
		return nil, appErrors.ErrUploadFailed.Wrap(err)
	}
	file = prepared

	ctx, cancel := context.WithCancel(ctx)
	t := newTask(AttachmentPath(chatID, p.clock(), file.Name), cancel, int64(len(file.Data)))
	t.onFinish = onFinish

	p.logger.Debug("Upload started", "path", t.path, "size", len(file.Data))
	go p.run(ctx, t, file, cb)
	return t, nil
}

// run 执行上传并投递回调
func (p *Pipeline) run(ctx context.Context, t *Task, file File, cb Callbacks) {
	defer close(t.done)
	defer t.cancel()

	att, err := p.upload(ctx, t, file, cb)
	if t.finish(att, err) {
		p.logger.Debug("Upload cancelled", "path", t.path)
		return
	}

	if err != nil {
		if appErrors.Is(err, appErrors.ErrUploadCancelled) {
			p.logger.Info("Upload aborted", "path", t.path)
		} else {
			p.logger.Error("Upload failed", "path", t.path, "error", err)
		}
		if cb.OnError != nil {
			t.deliver(func() { cb.OnError(err) })
		}
		return
	}

	p.logger.Info("Upload completed", "path", t.path, "size", t.Progress().Total)
	if cb.OnComplete != nil {
		t.deliver(func() { cb.OnComplete(att) })
	}
}

func (p *Pipeline) upload(ctx context.Context, t *Task, file File, cb Callbacks) (*model.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.ErrUploadCancelled.Wrap(err)
	}
	prepared := file

	total := int64(len(prepared.Data))
	t.setProgress(0, total)
	progress := func(transferred, size int64) {
		pr := t.setProgress(transferred, size)
		if cb.OnProgress != nil {
			t.deliver(func() { cb.OnProgress(pr) })
		}
	}

	meta, err := p.objects.Put(ctx, t.path, bytes.NewReader(prepared.Data), total, prepared.ContentType, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, appErrors.ErrUploadCancelled.Wrap(err)
		}
		return nil, appErrors.ErrUploadFailed.Wrap(err)
	}

	url, err := p.objects.ResolveURL(ctx, meta.Path)
	if err != nil {
		return nil, appErrors.ErrUploadFailed.Wrap(err)
	}

	return &model.Attachment{
		URL:         url,
		ContentType: prepared.ContentType,
		Name:        prepared.Name,
	}, nil
}
