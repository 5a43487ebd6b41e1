package upload

import (
	"context"
	"sync"

	appErrors "sudooom.im.ripple/pkg/errors"
)

// Slot 单个输入面的上传占用，同一时间只允许一个进行中的上传
type Slot struct {
	pipeline *Pipeline

	mu     sync.Mutex
	active *Task
}

// NewSlot 创建上传占用
func NewSlot(pipeline *Pipeline) *Slot {
	return &Slot{pipeline: pipeline}
}

// Start 占用并开始上传，已有上传进行中时返回 ErrUploadInFlight
func (s *Slot) Start(ctx context.Context, chatID string, file File, cb Callbacks) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, appErrors.ErrUploadInFlight
	}

	var t *Task
	release := func() {
		s.mu.Lock()
		if s.active == t {
			s.active = nil
		}
		s.mu.Unlock()
	}
	t, err := s.pipeline.start(ctx, chatID, file, cb, release)
	if err != nil {
		return nil, err
	}
	s.active = t
	return t, nil
}

// Active 进行中的上传，没有时为 nil
func (s *Slot) Active() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Busy 是否有上传进行中
func (s *Slot) Busy() bool {
	return s.Active() != nil
}

// Cancel 取消进行中的上传并释放占用
func (s *Slot) Cancel() bool {
	t := s.Active()
	if t == nil {
		return false
	}
	t.Cancel()
	return true
}
