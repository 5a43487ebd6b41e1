package composer

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrNotRecording 未处于录音状态
var ErrNotRecording = errors.New("composer: not recording")

// Recorder 平台录音能力，录制结果保存在内存中
type Recorder interface {
	Start(ctx context.Context) error
	// Stop 结束录音并返回完整音频
	Stop(ctx context.Context) ([]byte, error)
}

// BufferRecorder 由外部写入音频分片的录音器
type BufferRecorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	recording bool
}

// NewBufferRecorder 创建内存录音器
func NewBufferRecorder() *BufferRecorder {
	return &BufferRecorder{}
}

// Start 开始录音，清空之前的数据
func (r *BufferRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.recording = true
	return nil
}

// Write 追加音频分片
func (r *BufferRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0, ErrNotRecording
	}
	return r.buf.Write(p)
}

// Stop 结束录音
func (r *BufferRecorder) Stop(_ context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, ErrNotRecording
	}
	r.recording = false
	data := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	return data, nil
}
