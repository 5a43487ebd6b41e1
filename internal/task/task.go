// Package task 基于时间轮的延迟任务调度，用于智能回复防抖等短延迟触发。
package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数类型
type TaskFunc func(ctx context.Context, target string) error

// Task 任务定义
type Task struct {
	ID        string        `json:"id"`        // 任务唯一ID，同 ID 再次添加会替换旧任务
	Target    string        `json:"target"`    // 操作对象标识
	Delay     time.Duration `json:"delay"`     // 延迟时间，按调度器 tick 向上取整
	Fn        TaskFunc      `json:"-"`         // 执行函数
	CreatedAt time.Time     `json:"createdAt"` // 创建时间
}

// NewTask 创建新任务
func NewTask(id, target string, delay time.Duration, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
