package upload

import (
	"context"
	"sync"

	"sudooom.im.ripple/internal/model"
)

// Progress 上传进度
type Progress struct {
	Transferred int64 `json:"transferred"`
	Total       int64 `json:"total"`
}

// Percent 百分比，总大小未知时为 0
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Transferred) * 100 / float64(p.Total)
}

// Callbacks 上传回调，均在上传协程中调用，回调内不可调用 Task.Cancel
type Callbacks struct {
	OnProgress func(p Progress)
	OnComplete func(att *model.Attachment)
	// OnError 失败回调，err 为 ErrUploadCancelled 或 ErrUploadFailed
	OnError func(err error)
}

// Task 一次进行中的上传
type Task struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}

	// cbMu 串行化回调与 Cancel，Cancel 返回后不再有回调
	cbMu sync.Mutex

	mu         sync.Mutex
	cancelled  bool
	progress   Progress
	attachment *model.Attachment
	err        error
	onFinish   func()
}

func newTask(path string, cancel context.CancelFunc, total int64) *Task {
	return &Task{
		path:     path,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: Progress{Total: total},
	}
}

// Path 存储路径
func (t *Task) Path() string {
	return t.path
}

// Progress 当前进度
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Done 上传结束（含取消）时关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result 结束后的结果
func (t *Task) Result() (*model.Attachment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attachment, t.err
}

// Cancelled 是否被显式取消
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel 立即取消，之后不再触发任何回调，也不会产生消息
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	finish := t.onFinish
	t.onFinish = nil
	t.mu.Unlock()

	t.cancel()

	t.cbMu.Lock()
	t.cbMu.Unlock()

	if finish != nil {
		finish()
	}
}

// deliver 未取消时执行回调
func (t *Task) deliver(fn func()) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	if t.Cancelled() {
		return
	}
	fn()
}

func (t *Task) setProgress(transferred, total int64) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = Progress{Transferred: transferred, Total: total}
	return t.progress
}

// finish 记录结果并释放占用，返回是否已被取消
func (t *Task) finish(att *model.Attachment, err error) bool {
	t.mu.Lock()
	t.attachment = att
	t.err = err
	cancelled := t.cancelled
	release := t.onFinish
	t.onFinish = nil
	t.mu.Unlock()

	if release != nil {
		release()
	}
	return cancelled
}
